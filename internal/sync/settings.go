package sync

import (
	"fmt"
	"time"

	"agsync/internal/defaults"
	"agsync/internal/document"
	"agsync/internal/fragment"
	"agsync/internal/remote"
	"agsync/internal/timefmt"
)

// Project settings use friendlier names and shapes in the document than on
// the wire. This file owns the translation in both directions:
//
//	anyone_with_link_can_submit    <-> guests_can_submit
//	final_graded_submission_policy <-> ultimate_submission_policy
//	send_email_receipts            <-> send_email_on_submission_received +
//	                                   send_email_on_non_deferred_tests_finished
//	honor_pledge                   <-> use_honor_pledge + honor_pledge_text
//	deadline                       <-> soft_closing_time + closing_time
//
// Everything else passes through under the same name.

var settingsPassthrough = []string{
	"allow_late_days",
	"min_group_size",
	"max_group_size",
	"submission_limit_per_day",
	"allow_submissions_past_limit",
	"groups_combine_daily_submissions",
	"num_bonus_submissions",
	"total_submission_limit",
}

// settingsWireBody translates a filled document settings record into the
// PATCH body for the remote project, interpreting document-local datetimes
// in loc.
func settingsWireBody(settings fragment.Map, loc *time.Location, tzName string) (fragment.Map, error) {
	body := fragment.Map{
		"guests_can_submit":               settings["anyone_with_link_can_submit"],
		"ultimate_submission_policy":      settings["final_graded_submission_policy"],
		"submission_limit_reset_timezone": tzName,
	}
	for _, name := range settingsPassthrough {
		body[name] = settings[name]
	}

	body["use_honor_pledge"] = settings["honor_pledge"] != nil
	body["honor_pledge_text"] = ""
	if pledge, ok := settings["honor_pledge"].(string); ok {
		body["honor_pledge_text"] = pledge
	}

	body["send_email_on_submission_received"] = false
	body["send_email_on_non_deferred_tests_finished"] = false

	switch receipts := settings["send_email_receipts"].(type) {
	case bool:
		body["send_email_on_submission_received"] = receipts
		body["send_email_on_non_deferred_tests_finished"] = receipts
	case string:
		switch receipts {
		case "on_received":
			body["send_email_on_submission_received"] = true
		case "on_finish":
			body["send_email_on_non_deferred_tests_finished"] = true
		default:
			return nil, document.NewConfigError("settings", "send_email_receipts",
				`expected true, false, "on_received", or "on_finish", got %q`, receipts)
		}
	default:
		return nil, document.NewConfigError("settings", "send_email_receipts",
			"expected a boolean or a string, got %T", receipts)
	}

	resetTime, ok := settings["submission_limit_reset_time"].(string)
	if !ok {
		return nil, document.NewConfigError("settings", "submission_limit_reset_time",
			"expected a time string, got %T", settings["submission_limit_reset_time"])
	}
	parsedReset, err := timefmt.ParseClock(resetTime)
	if err != nil {
		return nil, document.NewConfigError("settings", "submission_limit_reset_time", "%s", err)
	}
	body["submission_limit_reset_time"] = timefmt.FormatClock(parsedReset)

	soft, hard, err := deadlineWireTimes(settings["deadline"], loc)
	if err != nil {
		return nil, err
	}
	body["soft_closing_time"] = soft
	body["closing_time"] = hard
	return body, nil
}

// deadlineWireTimes maps a document deadline record to the remote
// soft_closing_time and closing_time pair, both RFC 3339 or nil.
func deadlineWireTimes(deadline any, loc *time.Location) (any, any, error) {
	if deadline == nil {
		return nil, nil, nil
	}
	rec, ok := deadline.(fragment.Map)
	if !ok {
		return nil, nil, document.NewConfigError("settings", "deadline",
			"expected a mapping with a cutoff_type, got %T", deadline)
	}
	rawDeadline, ok := rec["deadline"].(string)
	if !ok {
		return nil, nil, document.NewConfigError("settings", "deadline",
			"missing deadline datetime")
	}
	at, err := timefmt.ParseDatetime(rawDeadline, loc)
	if err != nil {
		return nil, nil, document.NewConfigError("settings", "deadline", "%s", err)
	}

	cutoffType, _ := rec["cutoff_type"].(string)
	switch cutoffType {
	case "none":
		return at.Format(time.RFC3339), nil, nil
	case "relative":
		cutoff := time.Duration(0)
		if raw, ok := rec["cutoff"]; ok && raw != nil {
			s, ok := raw.(string)
			if !ok {
				return nil, nil, document.NewConfigError("settings", "deadline.cutoff",
					"expected a duration string, got %T", raw)
			}
			if cutoff, err = timefmt.ParseDuration(s); err != nil {
				return nil, nil, document.NewConfigError("settings", "deadline.cutoff", "%s", err)
			}
		}
		return at.Format(time.RFC3339), at.Add(cutoff).Format(time.RFC3339), nil
	case "fixed":
		rawCutoff, ok := rec["cutoff"].(string)
		if !ok {
			return nil, nil, document.NewConfigError("settings", "deadline.cutoff",
				"a fixed cutoff requires a cutoff datetime")
		}
		cutoffAt, err := timefmt.ParseDatetime(rawCutoff, loc)
		if err != nil {
			return nil, nil, document.NewConfigError("settings", "deadline.cutoff", "%s", err)
		}
		if cutoffAt.Before(at) {
			return nil, nil, document.NewConfigError("settings", "deadline.cutoff",
				"a fixed cutoff must be on or after the deadline")
		}
		return at.Format(time.RFC3339), cutoffAt.Format(time.RFC3339), nil
	default:
		return nil, nil, document.NewConfigError("settings", "deadline.cutoff_type",
			`expected "relative", "fixed", or "none", got %q`, cutoffType)
	}
}

// settingsFromRemote translates a remote project record into a minimal
// document settings record, plus the project timezone.
func settingsFromRemote(project remote.Resource, cutoffPreference string, warn func(string)) (fragment.Map, string, error) {
	tzName, _ := project["submission_limit_reset_timezone"].(string)
	if tzName == "" {
		tzName = "UTC"
	}
	loc, err := timefmt.LoadTimezone(tzName)
	if err != nil {
		return nil, "", err
	}

	policy, _ := project["ultimate_submission_policy"].(string)
	if policy == "best_basic_score" {
		warn(`The "best_basic_score" final graded submission policy is deprecated. Using "best" instead.`)
		policy = "best"
	}

	settings := fragment.Map{
		"anyone_with_link_can_submit":    project["guests_can_submit"],
		"final_graded_submission_policy": policy,
	}
	for _, name := range settingsPassthrough {
		settings[name] = project[name]
	}

	onReceived, _ := project["send_email_on_submission_received"].(bool)
	onFinish, _ := project["send_email_on_non_deferred_tests_finished"].(bool)
	switch {
	case onReceived && onFinish:
		settings["send_email_receipts"] = true
	case onReceived:
		settings["send_email_receipts"] = "on_received"
	case onFinish:
		settings["send_email_receipts"] = "on_finish"
	default:
		settings["send_email_receipts"] = false
	}

	if use, _ := project["use_honor_pledge"].(bool); use {
		text, _ := project["honor_pledge_text"].(string)
		settings["honor_pledge"] = text
	} else {
		settings["honor_pledge"] = nil
	}

	if raw, ok := project["submission_limit_reset_time"].(string); ok {
		parsed, err := timefmt.ParseClock(raw)
		if err != nil {
			return nil, "", fmt.Errorf("remote submission_limit_reset_time: %w", err)
		}
		settings["submission_limit_reset_time"] = timefmt.FormatClock(parsed)
	}

	deadline, err := deadlineFromRemote(project, loc, cutoffPreference)
	if err != nil {
		return nil, "", err
	}
	settings["deadline"] = deadline

	elided, err := defaults.Elide(defaults.ProjectSettings, settings)
	if err != nil {
		return nil, "", err
	}
	return elided, tzName, nil
}

// deadlineFromRemote rebuilds the document deadline record from the remote
// closing-time pair. When both times are set the cutoff preference decides
// between the relative and fixed renderings, which describe the same remote
// state.
func deadlineFromRemote(project remote.Resource, loc *time.Location, cutoffPreference string) (any, error) {
	soft, err := remoteTime(project["soft_closing_time"], loc)
	if err != nil {
		return nil, fmt.Errorf("remote soft_closing_time: %w", err)
	}
	hard, err := remoteTime(project["closing_time"], loc)
	if err != nil {
		return nil, fmt.Errorf("remote closing_time: %w", err)
	}

	switch {
	case soft == nil && hard == nil:
		return nil, nil
	case soft != nil && hard == nil:
		return fragment.Map{
			"cutoff_type": "none",
			"deadline":    timefmt.FormatDatetime(*soft, loc),
		}, nil
	case soft == nil && hard != nil:
		return fragment.Map{
			"cutoff_type": "relative",
			"deadline":    timefmt.FormatDatetime(*hard, loc),
		}, nil
	default:
		if cutoffPreference == "fixed" {
			return fragment.Map{
				"cutoff_type": "fixed",
				"deadline":    timefmt.FormatDatetime(*soft, loc),
				"cutoff":      timefmt.FormatDatetime(*hard, loc),
			}, nil
		}
		rec := fragment.Map{
			"cutoff_type": "relative",
			"deadline":    timefmt.FormatDatetime(*soft, loc),
		}
		if cutoff := hard.Sub(*soft); cutoff != 0 {
			rec["cutoff"] = timefmt.FormatDuration(cutoff)
		}
		return rec, nil
	}
}

func remoteTime(raw any, loc *time.Location) (*time.Time, error) {
	s, ok := raw.(string)
	if !ok || s == "" {
		return nil, nil
	}
	t, err := timefmt.ParseDatetime(s, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
