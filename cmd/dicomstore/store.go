package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/cobra"
)

const (
	mediaTypeDicomJSON = "application/dicom+json"
	mediaTypeDicom     = "application/dicom"
)

type storeCommand struct {
	BaseURL string
	Study   string
	Binary  string
	Timeout time.Duration

	stdin  io.Reader
	stdout io.Writer
}

func newStoreCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cmd := &storeCommand{stdin: stdin, stdout: stdout}
	ccmd := &cobra.Command{
		Use:   "store [file.json ...]",
		Short: "Upload DICOM JSON datasets to a running server",
		Long: `
Uploads one or more DICOM JSON files in a single multipart/related request.
Reads from stdin when no file is given. With --binary, exactly one dataset
may be uploaded and the file is stored as its binary.
`,
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.Run(c.Context(), args)
		},
	}

	flags := ccmd.Flags()
	flags.StringVar(&cmd.BaseURL, "url", "http://localhost:8080", "base URL of the DICOM API")
	flags.StringVar(&cmd.Study, "study", "", "require every instance to belong to this study")
	flags.StringVar(&cmd.Binary, "binary", "", "binary file stored with the single dataset")
	flags.DurationVar(&cmd.Timeout, "timeout", time.Minute, "request timeout")
	return ccmd
}

// Run builds the multipart body and prints the server's per-instance results
func (s *storeCommand) Run(ctx context.Context, files []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.Binary != "" && len(files) > 1 {
		return fmt.Errorf("--binary allows a single dataset file")
	}

	var parts [][]byte
	if len(files) == 0 {
		data, err := io.ReadAll(s.stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		parts = append(parts, data)
	}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		parts = append(parts, data)
	}

	var binary []byte
	if s.Binary != "" {
		data, err := os.ReadFile(s.Binary)
		if err != nil {
			return err
		}
		binary = data
	}

	body, contentType, err := buildStoreBody(parts, binary)
	if err != nil {
		return err
	}

	target := strings.TrimRight(s.BaseURL, "/") + "/studies"
	if s.Study != "" {
		target += "/" + s.Study
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", mediaTypeDicomJSON)

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.HTTPClient.Timeout = s.Timeout

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("store request: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, out, "", "  ") == nil {
		out = pretty.Bytes()
	}
	fmt.Fprintf(s.stdout, "%s\n%s\n", resp.Status, out)

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("store failed with status %d", resp.StatusCode)
	}
	return nil
}

// buildStoreBody encodes each dataset as its own part, followed by binary when set
func buildStoreBody(datasets [][]byte, binary []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	write := func(contentType string, data []byte) error {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", contentType)
		w, err := mw.CreatePart(h)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	for _, ds := range datasets {
		if err := write(mediaTypeDicomJSON, ds); err != nil {
			return nil, "", err
		}
	}
	if binary != nil {
		if err := write(mediaTypeDicom, binary); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}

	contentType := fmt.Sprintf("multipart/related; type=%q; boundary=%s", mediaTypeDicomJSON, mw.Boundary())
	return buf.Bytes(), contentType, nil
}
