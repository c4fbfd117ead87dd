package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	logs "github.com/danmuck/smplog"
	"github.com/spf13/pflag"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/observability"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/chunk"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/session"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/store"
)

func runSend(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("send", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "sender config (toml)")
	linkKind := fs.String("link", "", "override link kind: mem|tcp|http|ws")
	address := fs.String("address", "", "override link address")
	format := fs.String("format", "", "override chunk format: text|binary|json")
	chunkSize := fs.Int("chunk-size", 0, "override max chunk size")
	resume := fs.Bool("resume", true, "resume from a saved checkpoint for the same payload")
	noCheckpoint := fs.Bool("no-checkpoint", false, "do not read or write checkpoints")
	raw := fs.Bool("raw", false, "accept a payload that is not hex")
	if done, err := parseFlags(fs, args, stderr); done || err != nil {
		return err
	}
	arg, err := singleArg(fs.Args())
	if err != nil {
		return err
	}

	observability.InitLogger("btxctl")
	cfg, err := loadSendSettings(*configPath)
	if err != nil {
		return err
	}
	if err := applySendFlags(fs, &cfg, *linkKind, *address, *format, *chunkSize); err != nil {
		return err
	}
	payload, err := readPayload(arg, stdin)
	if err != nil {
		return err
	}
	if !*raw {
		if err := checkHex(payload); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ckpts *store.CheckpointStore
	if !*noCheckpoint && cfg.CheckpointDir != "" {
		ckpts, err = store.OpenCheckpoints(cfg.CheckpointDir)
		if err != nil {
			return err
		}
	}
	res, err := send(ctx, cfg, payload, ckpts, *resume, stdout, stderr)
	fmt.Fprintf(stderr, "%s %s: %d/%d chunks, %d writes, %s\n",
		res.TxID, res.State, res.Sent, res.Total, res.Writes, res.Duration().Round(time.Millisecond))
	if err != nil {
		return fmt.Errorf("send %s: %w", res.TxID, err)
	}
	return nil
}

func applySendFlags(fs *pflag.FlagSet, cfg *sendSettings, linkKind, address, format string, chunkSize int) error {
	if fs.Changed("link") {
		cfg.LinkKind = linkKind
	}
	if fs.Changed("address") {
		cfg.Address = address
	}
	if fs.Changed("format") {
		f, err := session.ParseFormat(format)
		if err != nil {
			return err
		}
		cfg.Pipeline.Format = f
		if err := cfg.Pipeline.Validate(); err != nil {
			return err
		}
	}
	if fs.Changed("chunk-size") {
		cfg.Session.MaxChunkSize = chunkSize
		if err := cfg.Session.Validate(); err != nil {
			return err
		}
	}
	return validateLink(*cfg)
}

func send(ctx context.Context, cfg sendSettings, payload []byte, ckpts *store.CheckpointStore, resume bool, stdout, stderr io.Writer) (session.Result, error) {
	l, err := openLink(ctx, cfg, stdout)
	if err != nil {
		return session.Result{TxID: chunk.TxID(payload), State: session.StateFailed}, err
	}
	defer l.Close()

	obs := observability.Observers{
		observability.NewSessionMetrics(cfg.LinkKind),
		progressPrinter{w: stderr},
	}
	if ckpts != nil {
		obs = append(obs, checkpointer{store: ckpts})
	}
	s, err := session.NewSender(l, cfg.Session, session.WithPipeline(cfg.Pipeline), session.WithObserver(obs))
	if err != nil {
		return session.Result{TxID: chunk.TxID(payload), State: session.StateFailed}, err
	}

	digest := chunk.Digest(payload)
	var res session.Result
	from, resuming := resumePoint(ckpts, digest, resume)
	if resuming {
		fmt.Fprintf(stderr, "resuming at chunk %d/%d\n", from.Acked+1, from.Total)
		res, err = s.Resume(ctx, payload, from)
		if errors.Is(err, session.ErrResumeMismatch) {
			logs.Warnf("btxctl.send checkpoint does not match payload, starting over err=%v", err)
			res, err = s.Send(ctx, payload)
		}
	} else {
		res, err = s.Send(ctx, payload)
	}
	if res.State == session.StateCompleted && ckpts != nil {
		if cerr := ckpts.Clear(digest); cerr != nil {
			logs.Warnf("btxctl.send clear checkpoint err=%v", cerr)
		}
	}
	return res, err
}

func resumePoint(ckpts *store.CheckpointStore, digest [32]byte, resume bool) (session.ResumeFrom, bool) {
	if ckpts == nil || !resume {
		return session.ResumeFrom{}, false
	}
	cp, ok, err := ckpts.Load(digest)
	if err != nil {
		logs.Warnf("btxctl.send load checkpoint err=%v", err)
		return session.ResumeFrom{}, false
	}
	if !ok || cp.Acked <= 0 || cp.Acked >= cp.Total {
		return session.ResumeFrom{}, false
	}
	return session.ResumeFrom{ChunkSize: cp.ChunkSize, Total: cp.Total, Acked: cp.Acked}, true
}

// checkpointer saves progress after every acknowledged chunk.
type checkpointer struct {
	session.NopObserver
	store *store.CheckpointStore
}

func (c checkpointer) OnProgress(p session.Progress) {
	err := c.store.Save(store.Checkpoint{
		Digest:    p.Digest,
		TxID:      p.TxID,
		Total:     p.Total,
		Acked:     p.Sent,
		ChunkSize: p.ChunkSize,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		logs.Warnf("btxctl.checkpointer save tx_id=%s err=%v", p.TxID, err)
	}
}

type progressPrinter struct {
	session.NopObserver
	w io.Writer
}

func (p progressPrinter) OnState(tr session.Transition) {
	if tr.State == session.StateRetrying {
		fmt.Fprintf(p.w, "retrying chunk %d/%d\n", tr.Index, tr.Total)
	}
}

func (p progressPrinter) OnProgress(pr session.Progress) {
	fmt.Fprintf(p.w, "chunk %d/%d acknowledged\n", pr.Sent, pr.Total)
}
