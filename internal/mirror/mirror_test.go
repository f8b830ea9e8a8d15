package mirror_test

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/italolelis/mirror_downloader/internal/downloader"
	"github.com/italolelis/mirror_downloader/internal/listing"
	"github.com/italolelis/mirror_downloader/internal/mirror"
	"github.com/italolelis/mirror_downloader/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const remoteDir = "pub"

// remoteSite is an HTTP file server plus the listing a collaborator would
// produce for it.
type remoteSite struct {
	mu       sync.Mutex
	files    map[string][]byte
	failures map[string]int // remaining 503s per name
	requests map[string]int
	server   *httptest.Server
}

func newRemoteSite(t *testing.T) *remoteSite {
	t.Helper()

	site := &remoteSite{
		files:    make(map[string][]byte),
		failures: make(map[string]int),
		requests: make(map[string]int),
	}

	site.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Base(r.URL.Path)

		site.mu.Lock()
		site.requests[name]++
		content, ok := site.files[name]
		fail := site.failures[name] > 0
		if fail {
			site.failures[name]--
		}
		site.mu.Unlock()

		if fail {
			http.Error(w, "try again", http.StatusServiceUnavailable)

			return
		}

		if !ok {
			http.NotFound(w, r)

			return
		}

		w.Write(content)
	}))
	t.Cleanup(site.server.Close)

	return site
}

func (s *remoteSite) add(name string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = content
}

// addWithChecksum stores the file along with a correct md5sum-style companion.
func (s *remoteSite) addWithChecksum(name string, content []byte) {
	s.add(name, content)
	s.add(name+".md5", []byte(fmt.Sprintf("%x  %s\n", md5.Sum(content), name)))
}

func (s *remoteSite) lister() listing.Lister {
	return listing.ListerFunc(func(ctx context.Context, dir string) ([]string, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		names := make([]string, 0, len(s.files))
		for name := range s.files {
			names = append(names, name)
		}

		return names, nil
	})
}

func (s *remoteSite) requestCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.requests[name]
}

// fakeJournal implements storage.PassRepository in memory.
type fakeJournal struct {
	records []storage.PassRecord
}

func (f *fakeJournal) RecordPass(rec storage.PassRecord) error {
	f.records = append(f.records, rec)

	return nil
}

func (f *fakeJournal) RecentPasses(limit int) ([]storage.PassRecord, error) {
	return f.records, nil
}

func newMirror(site *remoteSite, targetDir string, mutate func(*mirror.Config)) *mirror.Mirror {
	cfg := mirror.Config{
		BaseURL:   site.server.URL,
		RemoteDir: remoteDir,
		TargetDir: targetDir,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	engine := downloader.NewEngine(site.server.Client(), 2)

	return mirror.New(site.lister(), engine, downloader.NewRetryCoordinator(engine), nil, nil, cfg)
}

func TestSync_DownloadsOnlyMissingFiles(t *testing.T) {
	site := newRemoteSite(t)
	site.add("a.gz", []byte("alpha"))
	site.add("b.gz", []byte("beta"))
	site.add("c.gz", []byte("gamma"))

	targetDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(targetDir, "c.gz"), []byte("gamma"), 0644))

	m := newMirror(site, targetDir, nil)
	defer m.Close()

	summary, err := m.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Listed)
	assert.Equal(t, 2, summary.Requested)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.True(t, summary.Clean())

	for name, want := range map[string]string{"a.gz": "alpha", "b.gz": "beta", "c.gz": "gamma"} {
		content, err := os.ReadFile(filepath.Join(targetDir, name))
		require.NoError(t, err)
		assert.Equal(t, want, string(content))
	}

	// The file already on disk must not be fetched again.
	assert.Zero(t, site.requestCount("c.gz"))
}

func TestSync_PrunesTempAndEmptyFiles(t *testing.T) {
	site := newRemoteSite(t)
	site.add("y.gz", []byte("fresh"))

	targetDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(targetDir, "y.gz"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(targetDir, "x.gz"+downloader.TempSuffix), []byte("partial"), 0644))

	m := newMirror(site, targetDir, nil)
	defer m.Close()

	summary, err := m.Sync(context.Background())
	require.NoError(t, err)

	// The zero-byte file counts as missing and is downloaded again.
	assert.Equal(t, 1, summary.Requested)

	content, err := os.ReadFile(filepath.Join(targetDir, "y.gz"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(content))

	_, err = os.Stat(filepath.Join(targetDir, "x.gz"+downloader.TempSuffix))
	assert.True(t, os.IsNotExist(err))
}

func TestSync_RetryRecoversTransientFailure(t *testing.T) {
	site := newRemoteSite(t)
	site.add("flaky.gz", []byte("eventually"))
	site.failures["flaky.gz"] = 1

	targetDir := t.TempDir()

	m := newMirror(site, targetDir, func(cfg *mirror.Config) {
		cfg.MaxRetries = 2
	})
	defer m.Close()

	summary, err := m.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 2, site.requestCount("flaky.gz"))

	content, err := os.ReadFile(filepath.Join(targetDir, "flaky.gz"))
	require.NoError(t, err)
	assert.Equal(t, "eventually", string(content))
}

func TestSync_PersistentFailureIsCountedNotFatal(t *testing.T) {
	site := newRemoteSite(t)
	site.add("good.gz", []byte("fine"))
	site.add("bad.gz", []byte("never"))
	site.failures["bad.gz"] = 100

	m := newMirror(site, t.TempDir(), func(cfg *mirror.Config) {
		cfg.MaxRetries = 2
	})
	defer m.Close()

	summary, err := m.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.False(t, summary.Clean())

	// Initial attempt plus two retry rounds.
	assert.Equal(t, 3, site.requestCount("bad.gz"))
}

func TestSync_VerificationRemovesMismatchedPair(t *testing.T) {
	site := newRemoteSite(t)
	site.addWithChecksum("good.gz", []byte("trustworthy"))
	site.add("bad.gz", []byte("corrupted"))
	site.add("bad.gz.md5", []byte("d41d8cd98f00b204e9800998ecf8427e  bad.gz\n"))

	targetDir := t.TempDir()

	m := newMirror(site, targetDir, func(cfg *mirror.Config) {
		cfg.VerifyChecksums = true
		cfg.ChecksumExt = "md5"
	})
	defer m.Close()

	summary, err := m.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Mismatched)
	assert.False(t, summary.Clean())

	// The mismatched pair is gone, so the next pass downloads it again.
	_, err = os.Stat(filepath.Join(targetDir, "bad.gz"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(targetDir, "bad.gz.md5"))
	assert.True(t, os.IsNotExist(err))

	content, err := os.ReadFile(filepath.Join(targetDir, "good.gz"))
	require.NoError(t, err)
	assert.Equal(t, "trustworthy", string(content))
}

func TestSync_NameFilters(t *testing.T) {
	site := newRemoteSite(t)
	site.add("data-2026.gz", []byte("keep"))
	site.add("data-2026.txt", []byte("skip suffix"))
	site.add("index.gz", []byte("skip prefix"))

	targetDir := t.TempDir()

	m := newMirror(site, targetDir, func(cfg *mirror.Config) {
		cfg.Prefix = "data-"
		cfg.Suffix = ".gz"
	})
	defer m.Close()

	summary, err := m.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Listed)
	assert.Equal(t, 1, summary.Requested)

	entries, err := os.ReadDir(targetDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "data-2026.gz", entries[0].Name())
}

func TestSync_SuffixFilterAdmitsChecksumCompanions(t *testing.T) {
	site := newRemoteSite(t)
	site.addWithChecksum("data.gz", []byte("payload"))

	targetDir := t.TempDir()

	m := newMirror(site, targetDir, func(cfg *mirror.Config) {
		cfg.Suffix = ".gz"
		cfg.VerifyChecksums = true
		cfg.ChecksumExt = "md5"
	})
	defer m.Close()

	summary, err := m.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Requested)
	assert.Equal(t, 0, summary.Mismatched)

	_, err = os.Stat(filepath.Join(targetDir, "data.gz.md5"))
	assert.NoError(t, err)
}

func TestSync_ListingFailureIsFatal(t *testing.T) {
	site := newRemoteSite(t)
	engine := downloader.NewEngine(site.server.Client(), 1)

	lister := listing.ListerFunc(func(ctx context.Context, dir string) ([]string, error) {
		return nil, errors.New("connection refused")
	})

	m := mirror.New(lister, engine, downloader.NewRetryCoordinator(engine), nil, nil, mirror.Config{
		BaseURL:   site.server.URL,
		RemoteDir: remoteDir,
		TargetDir: t.TempDir(),
	})
	defer m.Close()

	_, err := m.Sync(context.Background())
	require.Error(t, err)
	assert.Nil(t, m.LastSummary())
}

func TestSync_RecordsPassInJournal(t *testing.T) {
	site := newRemoteSite(t)
	site.add("a.gz", []byte("alpha"))

	journal := &fakeJournal{}
	engine := downloader.NewEngine(site.server.Client(), 1)

	m := mirror.New(site.lister(), engine, downloader.NewRetryCoordinator(engine), journal, nil, mirror.Config{
		BaseURL:   site.server.URL,
		RemoteDir: remoteDir,
		TargetDir: t.TempDir(),
	})
	defer m.Close()

	summary, err := m.Sync(context.Background())
	require.NoError(t, err)

	require.Len(t, journal.records, 1)
	assert.Equal(t, 1, journal.records[0].Succeeded)
	assert.True(t, journal.records[0].Clean())
	assert.Equal(t, summary, m.LastSummary())
}

func TestSync_EmitsPassCompletedEvent(t *testing.T) {
	site := newRemoteSite(t)
	site.add("a.gz", []byte("alpha"))

	m := newMirror(site, t.TempDir(), nil)
	defer m.Close()

	summary, err := m.Sync(context.Background())
	require.NoError(t, err)

	select {
	case event := <-m.OnPassCompleted:
		assert.Equal(t, summary, event)
	default:
		t.Fatal("expected a pass completed event")
	}
}
