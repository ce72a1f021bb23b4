package player

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/tvarr-player/internal/adapter"
	"github.com/jmylchreest/tvarr-player/internal/metrics"
	"github.com/jmylchreest/tvarr-player/internal/sink"
)

func (p *Player) listener(epoch uint64) adapter.Listener {
	return func(e adapter.Event) {
		p.box.push(message{epoch: epoch, adapterEvent: &e})
	}
}

// dispatch applies queued callbacks until the mailbox is closed.
func (p *Player) dispatch() {
	defer close(p.done)
	for {
		msgs, closed := p.box.take()
		for _, msg := range msgs {
			p.handle(msg)
		}
		if closed {
			return
		}
		<-p.box.wake
	}
}

func (p *Player) handle(msg message) {
	if msg.sync != nil {
		close(msg.sync)
		return
	}

	p.mu.Lock()
	if p.state == StateDestroyed {
		p.mu.Unlock()
		return
	}
	var changed bool
	switch {
	case msg.adapterEvent != nil:
		changed = p.onAdapterEvent(msg.epoch, *msg.adapterEvent)
	case msg.sinkEvent != nil:
		changed = p.onSinkEvent(msg.epoch, *msg.sinkEvent)
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()

	if changed {
		p.notify(snap)
	}
}

// live reports whether a callback tagged with epoch (and handle, for adapter
// events) still belongs to the current session.
func (p *Player) live(epoch uint64, h *adapter.Handle) bool {
	s := p.session
	if s == nil || s.released || s.epoch != epoch {
		return false
	}
	return h == nil || h == s.handle
}

func (p *Player) onAdapterEvent(epoch uint64, e adapter.Event) bool {
	if e.Handle == nil || !p.live(epoch, e.Handle) {
		metrics.IncStaleEvent()
		p.logger.Debug("dropping stale adapter event", slog.String("event", e.Type.String()))
		return false
	}
	s := p.session

	switch e.Type {
	case adapter.EventReady:
		p.applyTracks(s, e.Tracks, false)
		if p.state != StateInitializing {
			return true
		}
		_ = p.fire(TriggerAdapterReady)
		p.logger.Info("playback ready",
			slog.String("session_id", s.ID.String()),
			slog.String("adapter", s.adapter.Kind().String()))
		if s.resumeAt > 0 {
			if err := p.sink.Seek(s.resumeAt); err != nil {
				p.logger.Debug("resume seek failed", slog.String("error", err.Error()))
			}
			s.resumeAt = 0
		}
		if p.autoplay {
			if err := p.sink.Play(context.Background()); err != nil {
				p.logger.Warn("autoplay failed", slog.String("error", err.Error()))
				return true
			}
			_ = p.fire(TriggerPlay)
		}
		return true

	case adapter.EventTrackListChanged:
		p.applyTracks(s, e.Tracks, true)
		return true

	case adapter.EventQualityChanged:
		p.logger.Debug("quality level active", slog.Int("level", e.Quality))
		return false

	case adapter.EventRecoverableError:
		metrics.IncAdapterError(e.ErrorKind.String(), false)
		p.logger.Info("adapter recovering",
			slog.String("kind", recoverableKind(e.ErrorKind).String()),
			slog.Any("error", e.Err))
		return false

	case adapter.EventFatalError:
		metrics.IncAdapterError(e.ErrorKind.String(), true)
		_ = p.failLocked("adapter", KindFatalAdapter, fmt.Errorf("%s: %w", e.ErrorKind, e.Err))
		return true

	case adapter.EventStartupTimeout:
		if s.fellBack || p.state != StateInitializing {
			return false
		}
		p.fallbackLocked(s, e.ResolvedURL)
		return true
	}
	return false
}

// fallbackLocked replaces the transport adapter with a native one on the
// same sink. It runs at most once per session.
func (p *Player) fallbackLocked(s *Session, resolvedURL string) {
	s.fellBack = true
	metrics.IncStartupFallback()
	p.logger.Info("startup window expired, falling back to native decoding",
		slog.String("session_id", s.ID.String()),
		slog.String("url", resolvedURL),
		slog.String("kind", KindStartupTimeout.String()))

	p.detachLocked(s)
	s.epoch = p.epoch.Add(1)
	s.adapter = p.factory.NewFallback(resolvedURL, p.listener(s.epoch))
	s.tracks.Reset()
	_ = p.attachLocked(context.Background(), s, "fallback")
}

func (p *Player) onSinkEvent(epoch uint64, e sink.Event) bool {
	if !p.live(epoch, nil) {
		return false
	}
	switch e.Type {
	case sink.EventWaiting:
		if p.state == StatePlaying || p.state == StatePaused {
			_ = p.fire(TriggerStarved)
			return true
		}
	case sink.EventPlaying:
		if p.state == StateBuffering {
			_ = p.fire(TriggerResumed)
			return true
		}
	case sink.EventEnded:
		p.logger.Info("stream ended", slog.String("session_id", p.session.ID.String()))
	}
	return false
}

// applyTracks copies adapter track lists into the model. A full update
// replaces audio and subtitles even when empty; qualities are only replaced
// by a non-empty list.
func (p *Player) applyTracks(s *Session, list adapter.TrackList, full bool) {
	if len(list.Qualities) > 0 {
		s.tracks.SetQualities(list.Qualities)
	}
	if full || len(list.Audio) > 0 {
		s.tracks.SetAudioTracks(list.Audio)
	}
	if full || len(list.Subtitles) > 0 {
		s.tracks.SetSubtitleTracks(list.Subtitles)
	}
}

func recoverableKind(k adapter.ErrorKind) ErrorKind {
	switch k {
	case adapter.ErrorNetwork:
		return KindNetwork
	case adapter.ErrorDecode:
		return KindDecode
	default:
		return KindFatalAdapter
	}
}
