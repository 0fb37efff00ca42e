package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"meeting-insight-service/internal/models"
)

func newSubmitCommand() *cobra.Command {
	var (
		server  string
		video   string
		text    string
		wait    bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Upload a meeting video, start processing and follow its progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			c := &submitClient{base: strings.TrimRight(server, "/"), http: &http.Client{}, out: cmd.OutOrStdout()}
			return c.run(ctx, video, text, wait)
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://localhost:3000", "Service base URL")
	cmd.Flags().StringVar(&video, "video", "", "Video file to upload")
	cmd.Flags().StringVar(&text, "text", "", "Optional supplementary .txt file")
	cmd.Flags().BoolVar(&wait, "wait", true, "Follow progress until the job finishes")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Hour, "Give up after this long")
	_ = cmd.MarkFlagRequired("video")

	return cmd
}

type submitClient struct {
	base string
	http *http.Client
	out  io.Writer
}

type uploadReply struct {
	VideoPath    string  `json:"videoPath"`
	AudioPath    string  `json:"audioPath"`
	TextFilePath *string `json:"textFilePath"`
	Error        string  `json:"error"`
}

type processReply struct {
	JobID string `json:"jobId"`
	Error string `json:"error"`
}

func (c *submitClient) run(ctx context.Context, video, text string, wait bool) error {
	var conn *websocket.Conn
	if wait {
		var err error
		conn, err = c.dialProgress(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()
	}

	up, err := c.upload(ctx, video, text)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Uploaded: video=%s audio=%s\n", up.VideoPath, up.AudioPath)

	textPath := ""
	if up.TextFilePath != nil {
		textPath = *up.TextFilePath
	}
	jobId, err := c.process(ctx, up.AudioPath, textPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Job submitted: %s\n", jobId)

	if conn == nil {
		return nil
	}
	return c.follow(ctx, conn, jobId)
}

func (c *submitClient) dialProgress(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.base + "/ws")
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("connect progress stream: %w", err)
	}
	return conn, nil
}

// upload streams the multipart body so large videos are not buffered.
func (c *submitClient) upload(ctx context.Context, video, text string) (*uploadReply, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writePart(mw, "video", video)
		if err == nil && text != "" {
			err = writePart(mw, "textFile", text)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/upload", pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var reply uploadReply
	if err := c.send(req, &reply); err != nil {
		if reply.Error != "" {
			return nil, fmt.Errorf("upload rejected: %s", reply.Error)
		}
		return nil, fmt.Errorf("upload: %w", err)
	}
	return &reply, nil
}

func writePart(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

func (c *submitClient) process(ctx context.Context, audioPath, textPath string) (string, error) {
	body, err := json.Marshal(map[string]string{"audioPath": audioPath, "textFilePath": textPath})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/process", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var reply processReply
	if err := c.send(req, &reply); err != nil {
		if reply.Error != "" {
			return "", fmt.Errorf("process rejected: %s", reply.Error)
		}
		return "", fmt.Errorf("process: %w", err)
	}
	return reply.JobID, nil
}

// send decodes the JSON reply into v and fails on non-2xx statuses.
func (c *submitClient) send(req *http.Request, v any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	_ = json.Unmarshal(data, v)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}

type frame struct {
	Event string               `json:"event"`
	Data  models.ProgressEvent `json:"data"`
}

func (c *submitClient) follow(ctx context.Context, conn *websocket.Conn, jobId string) error {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("progress stream closed: %w", err)
		}
		ev := f.Data
		if ev.JobID != "" && ev.JobID != jobId {
			continue
		}
		fmt.Fprintf(c.out, "%-16s %s\n", ev.Status, ev.Message)

		switch ev.Status {
		case models.EventCompleted:
			if ev.ReportFile != "" {
				fmt.Fprintf(c.out, "Report: %s/api/download/pdf?file=%s\n", c.base, url.QueryEscape(ev.ReportFile))
			}
			return nil
		case models.EventError:
			if ev.JobID == jobId {
				return errors.New(ev.Message)
			}
		}
	}
}
