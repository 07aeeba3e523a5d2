package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

var (
	jsonBody string
	quiet    bool
)

// apiCmd is a raw authenticated passthrough for poking at endpoints the
// higher-level commands do not cover.
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Send raw authenticated requests to the autograder API",
}

var apiGetCmd = &cobra.Command{
	Use:   "get [url]",
	Short: "GET a URL and pretty-print the JSON response",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIGet,
}

var apiGetPagesCmd = &cobra.Command{
	Use:   "get-pages [url]",
	Short: "GET a paginated listing, following every page",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIGetPages,
}

var apiPostCmd = &cobra.Command{
	Use:   "post [url]",
	Short: "POST a JSON body to a URL",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIWrite(http.MethodPost),
}

var apiPutCmd = &cobra.Command{
	Use:   "put [url]",
	Short: "PUT a JSON body to a URL",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIWrite(http.MethodPut),
}

var apiPatchCmd = &cobra.Command{
	Use:   "patch [url]",
	Short: "PATCH a JSON body to a URL",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIWrite(http.MethodPatch),
}

func init() {
	for _, cmd := range []*cobra.Command{apiPostCmd, apiPutCmd, apiPatchCmd} {
		cmd.Flags().StringVarP(&jsonBody, "json-body", "j", "",
			"JSON data (string-encoded) to send as the request body")
		cmd.Flags().BoolVarP(&quiet, "quiet", "q", false,
			"Don't print the response data")
	}

	apiCmd.AddCommand(apiGetCmd)
	apiCmd.AddCommand(apiGetPagesCmd)
	apiCmd.AddCommand(apiPostCmd)
	apiCmd.AddCommand(apiPutCmd)
	apiCmd.AddCommand(apiPatchCmd)
}

func runAPIGet(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	body, err := client.GetRaw(context.Background(), args[0])
	if err != nil {
		return err
	}
	return printJSON(body)
}

func runAPIGetPages(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	results, err := client.GetPaginated(context.Background(), args[0])
	if err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(results, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	fmt.Println(string(encoded))
	return nil
}

func runAPIWrite(method string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		payload := []byte("{}")
		if jsonBody != "" {
			if !json.Valid([]byte(jsonBody)) {
				return fmt.Errorf("--json-body is not valid JSON")
			}
			payload = []byte(jsonBody)
		}

		client, err := newClient()
		if err != nil {
			return err
		}
		body, err := client.SendRaw(context.Background(), method, args[0], payload)
		if err != nil {
			return err
		}
		if quiet {
			return nil
		}
		return printJSON(body)
	}
}

func printJSON(body []byte) error {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		// Not JSON; print as-is.
		fmt.Println(strings.TrimSpace(string(body)))
		return nil
	}
	encoded, err := json.MarshalIndent(decoded, "", "    ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
