package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/sasha-s/go-deadlock"
	"github.com/thankful-ai/asyncnode/internal/asyncnode"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var _ asyncnode.OutputStore = &Bucket{}

const (
	scopeReadWrite = "https://www.googleapis.com/auth/devstorage.read_write"
	latestObject   = "latest.json"
	snapshotExt    = ".json"
)

// Bucket stores output snapshots in Google Cloud Storage. Objects are laid out
// as $stack/latest.json and $stack/$id.json.
type Bucket struct {
	name            string
	credentialsFile string
	opts            []option.ClientOption
	mu              deadlock.RWMutex
}

// NewBucket uses default credentials unless credentialsFile is set. Any client
// options replace credential lookup entirely, e.g. to point at an emulator.
func NewBucket(
	name, credentialsFile string,
	opts ...option.ClientOption,
) *Bucket {
	return &Bucket{
		name:            name,
		credentialsFile: credentialsFile,
		opts:            opts,
	}
}

func latestPath(stack string) string {
	return path.Join(stack, latestObject)
}

func snapshotPath(stack, id string) string {
	return path.Join(stack, id+snapshotExt)
}

// snapshotID parses an object name, reporting false for anything which is not
// a snapshot of the stack.
func snapshotID(stack, objectName string) (string, bool) {
	rest, ok := strings.CutPrefix(objectName, stack+"/")
	if !ok || rest == latestObject || strings.Contains(rest, "/") {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, snapshotExt)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func (b *Bucket) SetOutputs(
	ctx context.Context,
	snap asyncnode.Snapshot,
) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if snap.Stack == "" || snap.ID == "" {
		return errors.New("snapshot missing stack or id")
	}
	byt, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	client, err := b.client(ctx)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	defer func() { _ = client.Close() }()

	// Write the historical record first so latest never points at a
	// snapshot which failed to persist.
	if err = b.set(ctx, client, snapshotPath(snap.Stack, snap.ID), byt); err != nil {
		return fmt.Errorf("set snapshot: %w", err)
	}
	if err = b.set(ctx, client, latestPath(snap.Stack), byt); err != nil {
		return fmt.Errorf("set latest: %w", err)
	}
	return nil
}

func (b *Bucket) GetOutputs(
	ctx context.Context,
	stack string,
) (asyncnode.Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var snap asyncnode.Snapshot
	client, err := b.client(ctx)
	if err != nil {
		return snap, fmt.Errorf("client: %w", err)
	}
	defer func() { _ = client.Close() }()

	byt, err := b.get(ctx, client, latestPath(stack))
	switch {
	case errors.Is(err, storage.ErrObjectNotExist):
		return snap, asyncnode.Missing
	case err != nil:
		return snap, fmt.Errorf("get: %w", err)
	}
	if err = json.Unmarshal(byt, &snap); err != nil {
		return snap, fmt.Errorf("unmarshal: %w", err)
	}
	return snap, nil
}

func (b *Bucket) ListSnapshots(
	ctx context.Context,
	stack string,
) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	client, err := b.client(ctx)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	defer func() { _ = client.Close() }()

	var ids []string
	it := client.Bucket(b.name).Objects(ctx, &storage.Query{
		Prefix: stack + "/",
	})
	for {
		objAttrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("next: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("next: %w", ctx.Err())
		default:
			if id, ok := snapshotID(stack, objAttrs.Name); ok {
				ids = append(ids, id)
			}
		}
	}

	// xids sort by creation time.
	sort.Strings(ids)
	return ids, nil
}

func (b *Bucket) client(ctx context.Context) (*storage.Client, error) {
	if len(b.opts) > 0 {
		client, err := storage.NewClient(ctx, b.opts...)
		if err != nil {
			return nil, fmt.Errorf("new client: %w", err)
		}
		return client, nil
	}
	innerClient, err := httpClient(ctx, b.credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("http client: %w", err)
	}
	client, err := storage.NewClient(ctx,
		option.WithHTTPClient(innerClient))
	if err != nil {
		return nil, fmt.Errorf("new client: %w", err)
	}
	return client, nil
}

// httpClient returns an HTTP client that doesn't share a global transport. The
// implementation is taken from github.com/hashicorp/go-cleanhttp.
func httpClient(
	ctx context.Context,
	credentialsFile string,
) (*http.Client, error) {
	var client *http.Client
	if credentialsFile == "" {
		var err error
		client, err = google.DefaultClient(ctx, scopeReadWrite)
		if err != nil {
			return nil, fmt.Errorf("default client: %w", err)
		}
	} else {
		byt, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, byt,
			scopeReadWrite)
		if err != nil {
			return nil, fmt.Errorf("credentials from json: %w", err)
		}
		client = oauth2.NewClient(ctx, creds.TokenSource)
	}
	client.Transport.(*oauth2.Transport).Base = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   -1,
		DisableKeepAlives:     true,
	}
	return client, nil
}

func (b *Bucket) get(
	ctx context.Context,
	client *storage.Client,
	name string,
) ([]byte, error) {
	r, err := client.Bucket(b.name).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("new reader: %w", err)
	}
	defer func() { _ = r.Close() }()

	const maxBytes = 256 * 1024 // 256 KB
	lr := io.LimitReader(r, maxBytes)
	byt, err := io.ReadAll(lr)
	if err != nil {
		return nil, fmt.Errorf("read all: %w", err)
	}
	return byt, nil
}

func (b *Bucket) set(
	ctx context.Context,
	client *storage.Client,
	name string,
	data []byte,
) error {
	w := client.Bucket(b.name).Object(name).NewWriter(ctx)
	w.ContentType = "application/json"

	var closed bool
	defer func() {
		if !closed {
			_ = w.Close()
		}
	}()
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	closed = true
	if err := w.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
