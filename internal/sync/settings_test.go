package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agsync/internal/defaults"
	"agsync/internal/document"
	"agsync/internal/fragment"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func TestSettingsWireBody(t *testing.T) {
	loc := newYork(t)
	settings, err := defaults.Fill(defaults.ProjectSettings, fragment.Map{
		"honor_pledge":                "I will not cheat.",
		"send_email_receipts":         "on_finish",
		"submission_limit_reset_time": "8:00PM",
		"deadline": fragment.Map{
			"cutoff_type": "relative",
			"deadline":    "Apr 01, 2026 11:59PM",
			"cutoff":      "2d",
		},
	})
	require.NoError(t, err)

	body, err := settingsWireBody(settings, loc, "America/New_York")
	require.NoError(t, err)

	assert.Equal(t, false, body["guests_can_submit"])
	assert.Equal(t, "most_recent", body["ultimate_submission_policy"])
	assert.Equal(t, "America/New_York", body["submission_limit_reset_timezone"])
	assert.Equal(t, true, body["use_honor_pledge"])
	assert.Equal(t, "I will not cheat.", body["honor_pledge_text"])
	assert.Equal(t, false, body["send_email_on_submission_received"])
	assert.Equal(t, true, body["send_email_on_non_deferred_tests_finished"])
	assert.Equal(t, "08:00PM", body["submission_limit_reset_time"])
	assert.Equal(t, "2026-04-01T23:59:00-04:00", body["soft_closing_time"])
	assert.Equal(t, "2026-04-03T23:59:00-04:00", body["closing_time"])
	assert.Equal(t, 1, body["min_group_size"])
}

func TestSettingsWireBodyRejectsBadReceipts(t *testing.T) {
	settings, err := defaults.Fill(defaults.ProjectSettings, fragment.Map{
		"send_email_receipts": "sometimes",
	})
	require.NoError(t, err)

	_, err = settingsWireBody(settings, newYork(t), "America/New_York")
	var cfgErr *document.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "send_email_receipts", cfgErr.Field)
}

func TestDeadlineWireTimes(t *testing.T) {
	loc := newYork(t)

	soft, hard, err := deadlineWireTimes(nil, loc)
	require.NoError(t, err)
	assert.Nil(t, soft)
	assert.Nil(t, hard)

	soft, hard, err = deadlineWireTimes(fragment.Map{
		"cutoff_type": "none",
		"deadline":    "Apr 01, 2026 11:59PM",
	}, loc)
	require.NoError(t, err)
	assert.Equal(t, "2026-04-01T23:59:00-04:00", soft)
	assert.Nil(t, hard)

	// A relative deadline with no cutoff closes at the deadline itself.
	soft, hard, err = deadlineWireTimes(fragment.Map{
		"cutoff_type": "relative",
		"deadline":    "Apr 01, 2026 11:59PM",
	}, loc)
	require.NoError(t, err)
	assert.Equal(t, soft, hard)

	soft, hard, err = deadlineWireTimes(fragment.Map{
		"cutoff_type": "fixed",
		"deadline":    "Apr 01, 2026 11:59PM",
		"cutoff":      "Apr 03, 2026 11:59PM",
	}, loc)
	require.NoError(t, err)
	assert.Equal(t, "2026-04-01T23:59:00-04:00", soft)
	assert.Equal(t, "2026-04-03T23:59:00-04:00", hard)

	_, _, err = deadlineWireTimes(fragment.Map{
		"cutoff_type": "fixed",
		"deadline":    "Apr 03, 2026 11:59PM",
		"cutoff":      "Apr 01, 2026 11:59PM",
	}, loc)
	require.ErrorContains(t, err, "on or after the deadline")

	_, _, err = deadlineWireTimes(fragment.Map{
		"cutoff_type": "sometime",
		"deadline":    "Apr 01, 2026 11:59PM",
	}, loc)
	require.ErrorContains(t, err, "cutoff_type")
}

func remoteProjectRecord() fragment.Map {
	return fragment.Map{
		"guests_can_submit":                true,
		"ultimate_submission_policy":       "best_basic_score",
		"allow_late_days":                  false,
		"min_group_size":                   2,
		"max_group_size":                   3,
		"submission_limit_per_day":         nil,
		"allow_submissions_past_limit":     true,
		"groups_combine_daily_submissions": false,
		"num_bonus_submissions":            0,
		"total_submission_limit":           nil,
		"submission_limit_reset_time":      "00:00:00",
		"submission_limit_reset_timezone":  "America/New_York",
		"send_email_on_submission_received": true,
		"send_email_on_non_deferred_tests_finished": false,
		"use_honor_pledge":  true,
		"honor_pledge_text": "Be honest.",
		"soft_closing_time": "2026-04-01T23:59:00-04:00",
		"closing_time":      "2026-04-03T23:59:00-04:00",
	}
}

func TestSettingsFromRemote(t *testing.T) {
	var warnings []string
	settings, tzName, err := settingsFromRemote(remoteProjectRecord(), "relative", func(msg string) {
		warnings = append(warnings, msg)
	})
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", tzName)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "best_basic_score")

	want := fragment.Map{
		"anyone_with_link_can_submit":    true,
		"final_graded_submission_policy": "best",
		"min_group_size":                 2,
		"max_group_size":                 3,
		"send_email_receipts":            "on_received",
		"honor_pledge":                   "Be honest.",
		"deadline": fragment.Map{
			"cutoff_type": "relative",
			"deadline":    "Apr 01, 2026 11:59PM",
			"cutoff":      "2d",
		},
	}
	assert.True(t, fragment.Equal(want, settings), "got %#v", settings)
}

func TestSettingsFromRemoteFixedCutoffPreference(t *testing.T) {
	settings, _, err := settingsFromRemote(remoteProjectRecord(), "fixed", func(string) {})
	require.NoError(t, err)

	want := fragment.Map{
		"cutoff_type": "fixed",
		"deadline":    "Apr 01, 2026 11:59PM",
		"cutoff":      "Apr 03, 2026 11:59PM",
	}
	assert.True(t, fragment.Equal(want, settings["deadline"]), "got %#v", settings["deadline"])
}

func TestDeadlineFromRemotePartialTimes(t *testing.T) {
	loc := newYork(t)

	// Only a soft closing time: students see the deadline, nothing enforces
	// a later cutoff.
	deadline, err := deadlineFromRemote(fragment.Map{
		"soft_closing_time": "2026-04-01T23:59:00-04:00",
	}, loc, "relative")
	require.NoError(t, err)
	want := fragment.Map{"cutoff_type": "none", "deadline": "Apr 01, 2026 11:59PM"}
	assert.True(t, fragment.Equal(want, deadline), "got %#v", deadline)

	// Only a hard closing time: the deadline and the cutoff coincide.
	deadline, err = deadlineFromRemote(fragment.Map{
		"closing_time": "2026-04-01T23:59:00-04:00",
	}, loc, "relative")
	require.NoError(t, err)
	want = fragment.Map{"cutoff_type": "relative", "deadline": "Apr 01, 2026 11:59PM"}
	assert.True(t, fragment.Equal(want, deadline), "got %#v", deadline)

	deadline, err = deadlineFromRemote(fragment.Map{}, loc, "relative")
	require.NoError(t, err)
	assert.Nil(t, deadline)
}

func TestDiffSettingsComparesTimesByValue(t *testing.T) {
	desired := fragment.Map{
		"soft_closing_time":           "2026-04-01T23:59:00-04:00",
		"submission_limit_reset_time": "12:00AM",
		"min_group_size":              2,
	}
	current := fragment.Map{
		"soft_closing_time":           "2026-04-02T03:59:00Z",
		"submission_limit_reset_time": "00:00:00",
		"min_group_size":              2,
	}
	assert.Empty(t, diffSettings(desired, current))

	current["soft_closing_time"] = "2026-04-02T04:59:00Z"
	assert.Equal(t, []string{"soft_closing_time"}, diffSettings(desired, current))
}
