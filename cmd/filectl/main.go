// filectl is a small operator CLI for the ingestion API. It submits files,
// inspects processing status and fetches stored content.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var (
	apiURL string
	owner  string
)

func main() {
	root := &cobra.Command{
		Use:          "filectl",
		Short:        "Client for the file ingestion service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiURL, "api", envOr("FILEDOCK_API", "http://localhost:8080"), "base URL of the API server")
	root.PersistentFlags().StringVar(&owner, "owner", envOr("FILEDOCK_OWNER", "default"), "owner scope for requests")

	root.AddCommand(submitCmd(), statusCmd(), getCmd(), listCmd(), retryCmd(), deleteCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func submitCmd() *cobra.Command {
	var path string
	var wait bool
	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Upload a file for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			var body bytes.Buffer
			mw := multipart.NewWriter(&body)
			fw, err := mw.CreateFormFile("file", filepath.Base(args[0]))
			if err != nil {
				return err
			}
			if _, err := fw.Write(data); err != nil {
				return err
			}
			mw.Close()

			endpoint := apiURL + "/v1/files"
			if path != "" {
				endpoint += "?path=" + url.QueryEscape(path)
			}
			req, err := http.NewRequest(http.MethodPost, endpoint, &body)
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", mw.FormDataContentType())

			var result struct {
				FileID string `json:"file_id"`
				JobID  string `json:"job_id"`
				Status string `json:"status"`
			}
			if err := do(req, &result); err != nil {
				return err
			}
			fmt.Printf("file %s job %s %s\n", result.FileID, result.JobID, result.Status)

			if wait {
				return waitReady(result.FileID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "logical path to store the file under")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until processing reaches a terminal state")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <file-id>",
		Short: "Show processing status for a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var v json.RawMessage
			if err := getJSON("/v1/files/"+args[0]+"/status", &v); err != nil {
				return err
			}
			return printJSON(v)
		},
	}
}

func getCmd() *cobra.Command {
	var kind, out string
	cmd := &cobra.Command{
		Use:   "get <file-id>",
		Short: "Fetch stored content (original, summary-document or a derivative kind)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint := apiURL + "/v1/files/" + args[0] + "/content"
			if kind != "" {
				endpoint += "?kind=" + url.QueryEscape(kind)
			}
			req, err := http.NewRequest(http.MethodGet, endpoint, nil)
			if err != nil {
				return err
			}
			req.Header.Set("X-Owner", owner)

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return apiError(resp)
			}

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = os.Stdout.Write(data)
				return err
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "content kind to fetch")
	cmd.Flags().StringVarP(&out, "output", "o", "-", "write content to file instead of stdout")
	return cmd
}

func listCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ingested files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var v json.RawMessage
			if err := getJSON(fmt.Sprintf("/v1/files?limit=%d", limit), &v); err != nil {
				return err
			}
			return printJSON(v)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of files to return")
	return cmd
}

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <file-id>",
		Short: "Requeue a failed processing job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequest(http.MethodPost, apiURL+"/v1/files/"+args[0]+"/retry", nil)
			if err != nil {
				return err
			}
			var v json.RawMessage
			if err := do(req, &v); err != nil {
				return err
			}
			return printJSON(v)
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <file-id>",
		Short: "Soft-delete a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequest(http.MethodDelete, apiURL+"/v1/files/"+args[0], nil)
			if err != nil {
				return err
			}
			var v json.RawMessage
			if err := do(req, &v); err != nil {
				return err
			}
			return printJSON(v)
		},
	}
}

func waitReady(fileID string) error {
	for {
		var status struct {
			Status    string `json:"status"`
			LastError string `json:"last_error,omitempty"`
		}
		if err := getJSON("/v1/files/"+fileID+"/status", &status); err != nil {
			return err
		}
		switch status.Status {
		case "ready":
			fmt.Println("ready")
			return nil
		case "failed":
			return fmt.Errorf("processing failed: %s", status.LastError)
		}
		time.Sleep(time.Second)
	}
}

func getJSON(path string, v interface{}) error {
	req, err := http.NewRequest(http.MethodGet, apiURL+path, nil)
	if err != nil {
		return err
	}
	return do(req, v)
}

func do(req *http.Request, v interface{}) error {
	req.Header.Set("X-Owner", owner)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func apiError(resp *http.Response) error {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, e.Error)
	}
	return fmt.Errorf("unexpected status %s", resp.Status)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
