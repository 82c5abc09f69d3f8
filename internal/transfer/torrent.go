package transfer

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/storage"
	"github.com/elsbrock/gamedl/internal/errdefs"
	"github.com/elsbrock/gamedl/internal/log"
)

const defaultCompletionPoll = 500 * time.Millisecond

var (
	errStopped = errors.New("transfer stopped")
	errClosed  = errors.New("torrent closed by client")
)

// TorrentBackend adds magnet links to the shared swarm. Pieces stay on disk
// when a transfer is torn down and are re-verified when it is started again,
// so resumes are exact.
type TorrentBackend struct {
	swarm *Swarm
	// CompletionPoll is how often a running torrent is checked for missing
	// bytes.
	CompletionPoll time.Duration
}

// NewTorrentBackend creates a backend on top of swarm.
func NewTorrentBackend(swarm *Swarm) *TorrentBackend {
	return &TorrentBackend{swarm: swarm, CompletionPoll: defaultCompletionPoll}
}

func (b *TorrentBackend) Kind() Kind { return KindTorrent }

func (b *TorrentBackend) ResumeIsExact() bool { return true }

// Start adds the magnet to the swarm with file storage rooted at
// req.Destination.
func (b *TorrentBackend) Start(ctx context.Context, req Request) (Handle, error) {
	spec, err := torrent.TorrentSpecFromMagnetUri(req.Source)
	if err != nil {
		return nil, errdefs.NewConnectError(req.ID, err, "parsing magnet link")
	}
	if b.swarm == nil || b.swarm.client == nil {
		return nil, errdefs.NewConnectError(req.ID, nil, "torrent client not running")
	}
	if err := os.MkdirAll(req.Destination, 0755); err != nil {
		return nil, errdefs.NewTransferError(req.ID, err, "creating %s", req.Destination)
	}

	store := storage.NewFile(req.Destination)
	spec.Storage = store

	t, isNew, err := b.swarm.client.AddTorrentSpec(spec)
	if err != nil {
		store.Close()
		return nil, errdefs.NewConnectError(req.ID, err, "adding torrent")
	}
	if !isNew {
		// The torrent belongs to another session; leave it alone.
		store.Close()
		return nil, errdefs.NewDuplicateError(req.ID, "torrent %s is already active", spec.InfoHash.HexString())
	}

	poll := b.CompletionPoll
	if poll <= 0 {
		poll = defaultCompletionPoll
	}
	h := &TorrentHandle{
		id:       req.ID,
		root:     req.Destination,
		t:        t,
		store:    store,
		poll:     poll,
		metadata: make(chan struct{}),
		done:     make(chan struct{}),
		quit:     make(chan struct{}),
	}

	log.Info("torrent").
		Str("id", req.ID).
		Str("info_hash", spec.InfoHash.HexString()).
		Str("destination", req.Destination).
		Msg("Torrent added")

	go h.run()
	return h, nil
}

// TorrentHandle is a torrent in the shared swarm.
type TorrentHandle struct {
	id    string
	root  string
	t     *torrent.Torrent
	store storage.ClientImplCloser
	poll  time.Duration
	meter rateMeter

	mu     sync.Mutex
	result Result

	metadata chan struct{}
	done     chan struct{}
	quit     chan struct{}

	stopOnce sync.Once
	stopErr  error
}

func (h *TorrentHandle) Kind() Kind { return KindTorrent }

func (h *TorrentHandle) Metadata() <-chan struct{} { return h.metadata }

func (h *TorrentHandle) Done() <-chan struct{} { return h.done }

func (h *TorrentHandle) Stats() Progress {
	p := Progress{Peers: h.t.Stats().ActivePeers}
	if info := h.t.Info(); info != nil {
		p.BytesTotal = info.TotalLength()
		p.BytesTransferred = h.t.BytesCompleted()
	}
	p.RateBps = h.meter.observe(time.Now(), p.BytesTransferred)
	return p
}

func (h *TorrentHandle) Result() Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

func (h *TorrentHandle) Cancel() error { return h.teardown() }

func (h *TorrentHandle) DestroyForPause() error { return h.teardown() }

// teardown drops the torrent from the swarm. Completed pieces remain in the
// destination folder either way.
func (h *TorrentHandle) teardown() error {
	h.stopOnce.Do(func() {
		close(h.quit)
		<-h.done
		h.t.Drop()
		if err := h.store.Close(); err != nil {
			h.stopErr = errdefs.NewTransferError(h.id, err, "closing torrent storage")
		}
		log.Debug("torrent").
			Str("id", h.id).
			Msg("Torrent dropped")
	})
	return h.stopErr
}

func (h *TorrentHandle) run() {
	defer close(h.done)

	select {
	case <-h.t.GotInfo():
	case <-h.quit:
		h.setResult(Result{Err: errStopped})
		return
	case <-h.t.Closed():
		h.closedUnderneath()
		return
	}

	h.t.DownloadAll()
	close(h.metadata)
	log.Info("torrent").
		Str("id", h.id).
		Str("name", h.t.Name()).
		Int64("size", h.t.Info().TotalLength()).
		Msg("Metadata received")

	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()
	for {
		if h.t.BytesMissing() == 0 {
			h.setResult(Result{RootPath: h.root})
			log.Info("torrent").
				Str("id", h.id).
				Str("root", h.root).
				Msg("Torrent completed")
			return
		}
		select {
		case <-ticker.C:
		case <-h.quit:
			h.setResult(Result{Err: errStopped})
			return
		case <-h.t.Closed():
			h.closedUnderneath()
			return
		}
	}
}

// closedUnderneath fails a torrent the swarm dropped while it was running,
// for example on client shutdown.
func (h *TorrentHandle) closedUnderneath() {
	log.Warn("torrent").
		Str("id", h.id).
		Msg("Torrent closed while running")
	h.setResult(Result{Err: errdefs.NewTransferError(h.id, errClosed, "downloading torrent")})
}

func (h *TorrentHandle) setResult(r Result) {
	h.mu.Lock()
	h.result = r
	h.mu.Unlock()
}
