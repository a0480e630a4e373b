package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"

	"github.com/TunoMedia/TunoMedia/daemon/api/tunopb"
	"github.com/TunoMedia/TunoMedia/daemon/manager"
	"github.com/TunoMedia/TunoMedia/daemon/transport"
	"github.com/TunoMedia/TunoMedia/internal/chunker"
	"github.com/TunoMedia/TunoMedia/internal/ledger"
	"github.com/TunoMedia/TunoMedia/internal/media"
	"github.com/TunoMedia/TunoMedia/internal/observability"
	"github.com/TunoMedia/TunoMedia/internal/payment"
	"github.com/TunoMedia/TunoMedia/internal/storage"
)

// ErrNoSignature is returned for songs published without a content signature.
var ErrNoSignature = errors.New("song has no content signature")

// Options configures a Downloader.
type Options struct {
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Catalog   *manager.Catalog // optional
	Selector  Selector
	Encoding  payment.Encoding
	BlockSize int            // stream block size; 0 lets the distributor choose
	Signature chunker.Options // how the on-ledger signature was computed
	Dial      DialOptions
	QUICTLS   *tls.Config
	// Connect overrides how distributor connections are opened.
	Connect func(target string) (*grpc.ClientConn, error)
}

// Request names the content to download.
type Request struct {
	Song      ledger.ObjectID
	Whole     bool // single FetchSong call instead of a stream
	Overwrite bool
	// QUICAddress streams over QUIC from this address instead of the distributor's gRPC url.
	QUICAddress string
}

// Result describes a completed download.
type Result struct {
	Song        ledger.ObjectID
	Title       string
	Distributor ledger.Distributor
	Price       uint64
	Transaction ledger.Digest
	Location    string
	Size        int64
	Format      media.Format
	Chunks      int
	Elapsed     time.Duration
}

// Downloader pays a distributor for content, verifies every chunk against the
// on-ledger signature and stores the verified payload.
type Downloader struct {
	payer *Payer
	store storage.Store
	opts  Options
}

// NewDownloader creates a downloader storing into store.
func NewDownloader(payer *Payer, store storage.Store, opts Options) *Downloader {
	if opts.Logger == nil {
		opts.Logger = observability.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetrics(nil)
	}
	if opts.Selector == nil {
		opts.Selector = SelectFirst
	}
	if opts.Encoding == "" {
		opts.Encoding = payment.EncodingHex
	}
	if opts.Connect == nil {
		dial := opts.Dial
		opts.Connect = func(target string) (*grpc.ClientConn, error) {
			return Dial(target, dial)
		}
	}
	return &Downloader{payer: payer, store: store, opts: opts}
}

// Download buys req.Song from the selected distributor and stores it.
// Nothing is stored unless the whole payload matched its signature.
func (d *Downloader) Download(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	log := d.opts.Logger.WithContent(req.Song.Hex())

	if !req.Overwrite {
		has, err := d.store.Has(ctx, req.Song)
		if err != nil {
			return nil, err
		}
		if has {
			return nil, fmt.Errorf("%w: %s", storage.ErrExists, req.Song)
		}
	}

	song, songArg, err := d.payer.Song(ctx, req.Song)
	if err != nil {
		return nil, fmt.Errorf("failed to read song: %w", err)
	}
	if len(song.Signature) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSignature, req.Song)
	}
	sig, err := chunker.NewSignature(song.Signature, d.opts.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature of %s: %w", req.Song, err)
	}

	dist, err := d.opts.Selector(song)
	if err != nil {
		return nil, err
	}
	log = log.WithPeer(dist.Address.Hex())

	tx, price, err := d.payer.Pay(ctx, songArg, dist.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to build payment: %w", err)
	}
	envelope := d.opts.Encoding.Encode(tx.Marshal())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Infof("buying %s from %s for %d", req.Song, dist.URL, price)
	recv, closeTransfer, err := d.open(ctx, dist, envelope, req)
	if err != nil {
		return nil, err
	}
	defer closeTransfer()

	pr, pw := io.Pipe()
	type putResult struct {
		location string
		err      error
	}
	stored := make(chan putResult, 1)
	go func() {
		loc, err := d.store.Put(ctx, req.Song, pr, req.Overwrite)
		// Unblocks the writer if Put stopped reading early
		pr.CloseWithError(err)
		stored <- putResult{loc, err}
	}()

	head := &headWriter{w: pw}
	size, err := d.receive(recv, chunker.NewVerifier(sig), head, log)
	if err != nil {
		pw.CloseWithError(err)
		cancel()
		<-stored
		return nil, err
	}
	pw.Close()
	put := <-stored
	if put.err != nil {
		return nil, fmt.Errorf("failed to store %s: %w", req.Song, put.err)
	}

	format := media.Detect(head.buf)
	log.ContentStored(put.location, size, sig.Len())
	if d.opts.Catalog != nil {
		err := d.opts.Catalog.Put(manager.CatalogEntry{
			ContentID: req.Song,
			Title:     song.Title,
			Artist:    song.Artist,
			Location:  put.location,
			Size:      size,
			Format:    string(format),
			Signature: sig,
		})
		if err != nil {
			log.Error(err, "Failed to update catalog")
		}
	}

	return &Result{
		Song:        req.Song,
		Title:       song.Title,
		Distributor: dist,
		Price:       price,
		Transaction: tx.Digest(),
		Location:    put.location,
		Size:        size,
		Format:      format,
		Chunks:      sig.Len(),
		Elapsed:     time.Since(start),
	}, nil
}

// open starts the transfer and returns a function yielding received blocks until
// io.EOF, and a function releasing the connection.
func (d *Downloader) open(ctx context.Context, dist ledger.Distributor, envelope []byte, req Request) (func() ([]byte, error), func(), error) {
	if req.QUICAddress != "" {
		cs, err := transport.StreamSong(ctx, req.QUICAddress, d.opts.QUICTLS, &transport.StreamRequest{
			Encoding:  d.opts.Encoding,
			BlockSize: uint32(d.opts.BlockSize),
			Envelope:  envelope,
		})
		if err != nil {
			return nil, nil, err
		}
		return cs.Next, func() { cs.Close() }, nil
	}

	target, err := Target(dist.URL)
	if err != nil {
		return nil, nil, err
	}
	conn, err := d.opts.Connect(target)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	release := func() { conn.Close() }
	c := tunopb.NewTunoClient(conn)
	recvLimit := grpc.MaxCallRecvMsgSize(tunopb.MaxMessageSize)

	if req.Whole {
		resp, err := c.FetchSong(ctx, &tunopb.SongRequest{RawTransaction: envelope}, recvLimit)
		if err != nil {
			release()
			return nil, nil, err
		}
		data := resp.Data
		return func() ([]byte, error) {
			if data == nil {
				return nil, io.EOF
			}
			out := data
			data = nil
			return out, nil
		}, release, nil
	}

	stream, err := c.StreamSong(ctx, &tunopb.SongStreamRequest{
		Req:       &tunopb.SongRequest{RawTransaction: envelope},
		BlockSize: uint32(d.opts.BlockSize),
	}, recvLimit)
	if err != nil {
		release()
		return nil, nil, err
	}
	return func() ([]byte, error) {
		msg, err := stream.Recv()
		if err != nil {
			return nil, err
		}
		return msg.Data, nil
	}, release, nil
}

// receive feeds blocks through the verifier and forwards verified bytes to w.
func (d *Downloader) receive(next func() ([]byte, error), v *chunker.Verifier, w io.Writer, log *observability.Logger) (int64, error) {
	var size int64
	forward := func(ok []byte) error {
		if len(ok) == 0 {
			return nil
		}
		if _, err := w.Write(ok); err != nil {
			return err
		}
		size += int64(len(ok))
		return nil
	}
	fail := func(err error) error {
		var ie *chunker.IntegrityError
		if errors.As(err, &ie) {
			log.IntegrityFailure(ie.Index, err)
		}
		return err
	}

	for {
		block, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return size, err
		}
		before := v.Cursor()
		ok, err := v.Consume(block)
		if err != nil {
			d.opts.Metrics.RecordChunkVerification(false, len(block))
			return size, fail(err)
		}
		if v.Cursor() > before {
			d.opts.Metrics.RecordChunkVerification(true, len(ok))
		}
		if err := forward(ok); err != nil {
			return size, err
		}
	}

	last, err := v.Finish()
	if err != nil {
		d.opts.Metrics.RecordChunkVerification(false, 0)
		return size, fail(err)
	}
	if len(last) > 0 {
		d.opts.Metrics.RecordChunkVerification(true, len(last))
	}
	return size, forward(last)
}

// headWriter keeps the first media.HeaderSize bytes written through it.
type headWriter struct {
	w   io.Writer
	buf []byte
}

func (h *headWriter) Write(p []byte) (int, error) {
	if n := media.HeaderSize - len(h.buf); n > 0 {
		h.buf = append(h.buf, p[:min(n, len(p))]...)
	}
	return h.w.Write(p)
}

// Echo checks that a distributor is reachable.
func Echo(ctx context.Context, target, message string, opts DialOptions) (string, error) {
	conn, err := Dial(target, opts)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	resp, err := tunopb.NewTunoClient(conn).Echo(ctx, &tunopb.EchoRequest{Message: message})
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}
