package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"apk-portal/internal/config"
	"apk-portal/internal/feed"
	"apk-portal/internal/storage"
)

var (
	tailAddr       string
	tailConsumerID string
	tailApps       []string
	tailSaveDir    string
	tailHTTPURL    string
)

var releasesCmd = &cobra.Command{
	Use:   "releases",
	Short: "Follow the release feed",
}

var releasesTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print release events as they happen",
	Long: `Subscribe to the gRPC release feed and print every event. With --save-dir,
newly current revisions are downloaded from --http-url and their checksum
is verified.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		log := newLogger(cfg.Log)

		if tailConsumerID == "" {
			host, _ := os.Hostname()
			tailConsumerID = fmt.Sprintf("tail-%s-%s", host, uuid.NewString()[:8])
		}

		conn, err := grpc.NewClient(tailAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("failed to connect to release feed: %w", err)
		}
		defer conn.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		t := &tailer{
			client: feed.NewClient(conn),
			out:    cmd.OutOrStdout(),
			log:    log,
			req:    &feed.SubscribeRequest{ConsumerID: tailConsumerID, Applications: tailApps},
		}
		return t.run(ctx)
	},
}

func init() {
	releasesTailCmd.Flags().StringVar(&tailAddr, "addr", "localhost:9090", "release feed address")
	releasesTailCmd.Flags().StringVar(&tailConsumerID, "consumer-id", "", "consumer id (random when empty)")
	releasesTailCmd.Flags().StringSliceVar(&tailApps, "app", nil, "only events of these application slugs (repeatable)")
	releasesTailCmd.Flags().StringVar(&tailSaveDir, "save-dir", "", "download new revisions into this directory")
	releasesTailCmd.Flags().StringVar(&tailHTTPURL, "http-url", "http://localhost:8080", "portal base URL used with --save-dir")
	releasesCmd.AddCommand(releasesTailCmd)
	rootCmd.AddCommand(releasesCmd)
}

type tailer struct {
	client *feed.Client
	out    io.Writer
	log    *slog.Logger
	req    *feed.SubscribeRequest
}

// run keeps a subscription open, reconnecting with backoff until ctx ends
func (t *tailer) run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := t.stream(ctx)
		if ctx.Err() != nil {
			t.log.Info("shutting down")
			return nil
		}
		if status.Code(err) == codes.InvalidArgument {
			return err
		}

		t.log.Warn("stream ended, reconnecting", "error", err, "in", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (t *tailer) stream(ctx context.Context) error {
	sub, err := t.client.Subscribe(ctx, t.req)
	if err != nil {
		return err
	}
	t.log.Info("subscribed to release feed", "consumer_id", t.req.ConsumerID, "applications", t.req.Applications)

	for {
		event, err := sub.Recv()
		if err != nil {
			return err
		}
		t.print(event)

		if tailSaveDir != "" && event.Action != feed.ActionDeleted {
			if path, err := saveRevision(ctx, tailHTTPURL, tailSaveDir, event); err != nil {
				t.log.Error("failed to save revision", "revision_id", event.RevisionID, "error", err)
			} else {
				t.log.Info("revision saved", "path", path)
			}
		}
	}
}

func (t *tailer) print(e *feed.Event) {
	ts := time.Unix(e.Timestamp, 0).Format(time.RFC3339)
	if e.Action == feed.ActionDeleted {
		fmt.Fprintf(t.out, "%s %-11s %s %s\n", ts, e.Action, e.Application, e.Version)
		return
	}
	fmt.Fprintf(t.out, "%s %-11s %s %s r%d id=%d size=%d sha256=%s\n",
		ts, e.Action, e.Application, e.Version, e.RevisionNo, e.RevisionID, e.Size, e.SHA256)
}

// saveRevision downloads the event's revision to
// {dir}/{application}/{version}/r{revision}.apk and checks its digest.
func saveRevision(ctx context.Context, baseURL, dir string, e *feed.Event) (string, error) {
	target := filepath.Join(dir, storage.SafeName(e.Application), storage.SafeName(e.Version))
	if err := os.MkdirAll(target, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", target, err)
	}

	url := fmt.Sprintf("%s/download/%d", strings.TrimRight(baseURL, "/"), e.RevisionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download returned %s", resp.Status)
	}

	path := filepath.Join(target, fmt.Sprintf("r%d.apk", e.RevisionNo))
	f, err := os.CreateTemp(target, ".download-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(f.Name())

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, hasher), resp.Body); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	if got := hex.EncodeToString(hasher.Sum(nil)); got != e.SHA256 {
		return "", fmt.Errorf("checksum mismatch: got %s, want %s", got, e.SHA256)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}
