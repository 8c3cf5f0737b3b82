package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/tvsubscribe/internal/notify"
	"github.com/eugenenazirov/tvsubscribe/internal/settings"
)

// URLFunc builds the download link for a torrent ID and passkey.
type URLFunc func(torrentID, passkey string) string

// NotifierFactory builds the notifier for the relay in the current settings.
type NotifierFactory func(server, token string) notify.Notifier

// Report summarises one Download call.
type Report struct {
	Added   []string
	Skipped []string
	Failed  []string
}

// Downloader fetches .torrent files into a directory and hands them to a
// BitTorrent client. A file already present on disk means the torrent was
// handled before and is skipped.
type Downloader struct {
	dir         string
	downloadURL URLFunc
	httpClient  *http.Client
	newAdder    AdderFactory
	newNotifier NotifierFactory
	logger      *zap.Logger
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithAdderFactory overrides the BitTorrent client, primarily for tests.
func WithAdderFactory(f AdderFactory) Option {
	return func(d *Downloader) {
		d.newAdder = f
	}
}

// WithNotifierFactory overrides the notifier, primarily for tests.
func WithNotifierFactory(f NotifierFactory) Option {
	return func(d *Downloader) {
		d.newNotifier = f
	}
}

// WithHTTPClient overrides the client used to fetch torrent files.
func WithHTTPClient(hc *http.Client) Option {
	return func(d *Downloader) {
		d.httpClient = hc
	}
}

// New returns a Downloader storing files under dir.
func New(dir string, downloadURL URLFunc, logger *zap.Logger, opts ...Option) *Downloader {
	d := &Downloader{
		dir:         dir,
		downloadURL: downloadURL,
		httpClient:  &http.Client{Timeout: time.Minute},
		newAdder:    NewTransmission,
		newNotifier: func(server, token string) notify.Notifier {
			return notify.NewWeChat(server, token)
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Path returns where the .torrent file for id is kept.
func (d *Downloader) Path(id string) string {
	return filepath.Join(d.dir, id+".torrent")
}

// Notification titles.
const (
	titleFetchFailed = "种子下载失败"
	titleAddFailed   = "添加种子失败"
	titleAdded       = "种子下载成功"
)

// errAdd marks failures raised by the BitTorrent client rather than the tracker.
var errAdd = errors.New("add to bittorrent client")

// Download processes every ID, continuing past failures. The returned error
// joins all per-torrent failures.
func (d *Downloader) Download(ctx context.Context, ids []string, s settings.Settings) (Report, error) {
	var (
		report   Report
		failures []error
		pending  []string
	)
	for _, id := range ids {
		if _, err := os.Stat(d.Path(id)); err == nil {
			report.Skipped = append(report.Skipped, id)
			continue
		}
		pending = append(pending, id)
	}
	if len(pending) == 0 {
		return report, nil
	}

	notifier := d.newNotifier(s.WeChatServer, s.WeChatToken)
	adder, err := d.newAdder(s.Endpoint)
	if err != nil {
		// Nothing can be added, so every pending torrent fails with one message.
		joined := strings.Join(pending, ", ")
		d.logger.Warn("bittorrent client unavailable", zap.Strings("torrent_ids", pending), zap.Error(err))
		d.send(ctx, notifier, titleAddFailed, fmt.Sprintf("种子ID: %s\n错误信息: %v", joined, err))
		report.Failed = append(report.Failed, pending...)
		return report, fmt.Errorf("torrents %s: %w", joined, err)
	}

	for _, id := range pending {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}

		name, err := d.downloadOne(ctx, adder, id, d.Path(id), s.Passkey)
		if err != nil {
			title := titleFetchFailed
			if errors.Is(err, errAdd) {
				title = titleAddFailed
			}
			d.logger.Warn("torrent download failed", zap.String("torrent_id", id), zap.Error(err))
			d.send(ctx, notifier, title, fmt.Sprintf("种子ID: %s\n错误信息: %v", id, err))
			failures = append(failures, fmt.Errorf("torrent %s: %w", id, err))
			report.Failed = append(report.Failed, id)
			continue
		}

		d.logger.Info("torrent added", zap.String("torrent_id", id), zap.String("name", name))
		d.send(ctx, notifier, titleAdded, fmt.Sprintf("种子名称: %s\n种子ID: %s\n已成功添加到 Transmission", name, id))
		report.Added = append(report.Added, id)
	}

	return report, errors.Join(failures...)
}

func (d *Downloader) downloadOne(ctx context.Context, adder Adder, id, path, passkey string) (string, error) {
	if err := d.fetch(ctx, d.downloadURL(id, passkey), path); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("fetch torrent file: %w", err)
	}

	name, err := adder.AddFile(ctx, path)
	if err != nil {
		// Removing the file lets the next run retry.
		_ = os.Remove(path)
		return "", fmt.Errorf("%w: %w", errAdd, err)
	}
	return name, nil
}

func (d *Downloader) fetch(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (d *Downloader) send(ctx context.Context, n notify.Notifier, title, content string) {
	if err := n.Send(ctx, title, content); err != nil {
		if errors.Is(err, notify.ErrNotConfigured) {
			d.logger.Debug("notification skipped", zap.String("title", title))
			return
		}
		d.logger.Warn("notification failed", zap.String("title", title), zap.Error(err))
	}
}
