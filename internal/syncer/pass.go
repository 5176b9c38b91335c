package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"kioku/internal/cards"
	"kioku/internal/kioku"
	"kioku/internal/manifest"
)

// deckPass holds the working state of one sync pass. Entries and synced
// mirror the local manifest and watermark sidecar; every change is written
// through before the next remote call.
type deckPass struct {
	c        *Coordinator
	key      kioku.DeckKey
	deckPath string
	prefix   string

	entries []kioku.ManifestEntry
	synced  map[string]time.Time

	// pushed holds the revisions uploaded in this pass. They become
	// watermarks only once the remote manifest lists them.
	pushed map[string]time.Time

	remoteRaw     []byte
	remoteMissing bool

	rep  Report
	errs []error
}

func (c *Coordinator) pass(ctx context.Context, session kioku.Session, key kioku.DeckKey) (Report, error) {
	p := &deckPass{
		c:        c,
		key:      key,
		deckPath: key.LocalPath(c.dataDir),
		prefix:   key.RemotePrefix(session.UserID),
		rep:      Report{Key: key},
		pushed:   make(map[string]time.Time),
	}

	var err error
	if p.entries, err = c.manifest.Load(p.deckPath); err != nil {
		return p.rep, err
	}
	if p.synced, err = c.manifest.Synced(p.deckPath); err != nil {
		return p.rep, err
	}

	if err := p.pull(ctx); err != nil {
		return p.rep, err
	}
	if err := p.push(ctx); err != nil {
		return p.rep, err
	}
	if err := p.uploadManifest(ctx); err != nil {
		return p.rep, err
	}

	count, err := c.manifest.ActiveCount(p.deckPath)
	if err != nil {
		return p.rep, err
	}
	p.rep.ActiveCount = count

	if len(p.errs) > 0 {
		return p.rep, errors.Join(p.errs...)
	}
	return p.rep, nil
}

func (p *deckPass) cardPath(id string) string {
	return path.Join(p.prefix, kioku.CardsDir, id+".json")
}

func (p *deckPass) manifestPath() string {
	return p.prefix + kioku.ManifestFile
}

func (p *deckPass) index(id string) int {
	for i, e := range p.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// fatal reports whether err must abort the pass. Per-card problems are
// collected instead; local storage failures and a dead context are not.
func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, kioku.ErrStorageUnavailable) || ctx.Err() != nil
}

// pull applies remote entries that are strictly newer than their local
// counterparts, and local removals of entries that were purged remotely.
func (p *deckPass) pull(ctx context.Context) error {
	raw, err := p.c.remote.Get(ctx, p.manifestPath())
	switch {
	case errors.Is(err, kioku.ErrNotFound):
		p.remoteMissing = true
		return nil
	case err != nil:
		return fmt.Errorf("fetching remote manifest: %w", err)
	}
	p.remoteRaw = raw

	remote, err := manifest.Parse(bytes.NewReader(raw), p.c.opts.Location, func(lineNo int, line string, err error) {
		p.c.logger.Warn("skipping remote manifest line", "deck", p.key.String(), "line", lineNo, "text", line, "error", err)
	})
	if err != nil {
		return fmt.Errorf("%w: parsing remote manifest: %v", kioku.ErrMalformedRecord, err)
	}

	changed := false
	onRemote := make(map[string]bool, len(remote))
	for _, r := range remote {
		onRemote[r.ID] = true
		i := p.index(r.ID)

		switch {
		case i < 0 && r.Tombstone:
			// Deleted elsewhere before this device ever saw it.
		case i < 0 || r.LastModified.After(p.entries[i].LastModified):
			ok, err := p.apply(ctx, r, i)
			if err != nil {
				if fatal(ctx, err) {
					return err
				}
				p.errs = append(p.errs, err)
				continue
			}
			changed = changed || ok
		case r.LastModified.Equal(p.entries[i].LastModified):
			if err := p.tie(r, i); err != nil {
				return err
			}
		}
	}

	// An entry we had confirmed on the remote that is gone from it now was
	// purged there after a delete on another device.
	for _, e := range append([]kioku.ManifestEntry(nil), p.entries...) {
		if onRemote[e.ID] || e.Tombstone {
			continue
		}
		if ts, ok := p.synced[e.ID]; !ok || !ts.Equal(e.LastModified) {
			continue
		}
		if err := p.removeLocal(e.ID); err != nil {
			return err
		}
		p.rep.Removed++
		changed = true
	}

	if changed {
		return p.c.manifest.Save(p.deckPath, p.entries)
	}
	return nil
}

// apply makes the local deck match remote entry r. i is the local index of
// the entry or -1.
func (p *deckPass) apply(ctx context.Context, r kioku.ManifestEntry, i int) (bool, error) {
	if r.Tombstone {
		if err := p.removeLocal(r.ID); err != nil {
			return false, err
		}
		p.rep.Removed++
		return true, nil
	}

	data, err := p.c.remote.Get(ctx, p.cardPath(r.ID))
	if err != nil {
		return false, fmt.Errorf("fetching card %s: %w", r.ID, err)
	}
	if err := cards.Validate(data, r.ID); err != nil {
		return false, fmt.Errorf("remote card %s: %w", r.ID, err)
	}
	if err := p.c.cards.Write(p.deckPath, r.ID, kioku.CardRecord{ID: r.ID, Data: data}); err != nil {
		return false, err
	}

	if i < 0 {
		p.entries = append(p.entries, kioku.ManifestEntry{ID: r.ID, LastModified: r.LastModified})
	} else {
		p.entries[i].LastModified = r.LastModified
		p.entries[i].Tombstone = false
	}
	if err := p.markSynced(r.ID, r.LastModified); err != nil {
		return false, err
	}
	p.rep.Pulled++
	return true, nil
}

// tie resolves equal timestamps: nothing moves unless exactly one side is
// a tombstone, in which case the deletion wins.
func (p *deckPass) tie(r kioku.ManifestEntry, i int) error {
	l := p.entries[i]
	switch {
	case r.Tombstone == l.Tombstone:
		if !r.Tombstone {
			if ts, ok := p.synced[r.ID]; !ok || !ts.Equal(l.LastModified) {
				return p.markSynced(r.ID, l.LastModified)
			}
		}
		return nil
	case r.Tombstone:
		p.c.logger.Warn("remote deletion overrides local card", "deck", p.key.String(), "id", r.ID,
			"timestamp", r.LastModified, "error", kioku.ErrRemoteConflict)
		if err := p.removeLocal(r.ID); err != nil {
			return err
		}
		p.rep.Removed++
		return p.c.manifest.Save(p.deckPath, p.entries)
	default:
		// The local tombstone is pushed as a remote delete.
		p.c.logger.Warn("local deletion overrides remote card", "deck", p.key.String(), "id", r.ID,
			"timestamp", r.LastModified, "error", kioku.ErrRemoteConflict)
		return nil
	}
}

// push uploads live entries newer than their watermark and deletes
// tombstoned cards remotely, purging each tombstone once its delete is
// confirmed.
func (p *deckPass) push(ctx context.Context) error {
	purged := false
	for _, e := range append([]kioku.ManifestEntry(nil), p.entries...) {
		if e.Tombstone {
			if err := p.c.remote.Delete(ctx, p.cardPath(e.ID)); err != nil {
				if ctx.Err() != nil {
					return err
				}
				p.errs = append(p.errs, fmt.Errorf("deleting card %s: %w", e.ID, err))
				continue
			}
			if i := p.index(e.ID); i >= 0 {
				p.entries = append(p.entries[:i], p.entries[i+1:]...)
			}
			// The manifest is saved before the watermark is dropped: a crash
			// in between leaves a stale watermark, which is harmless.
			if err := p.c.manifest.Save(p.deckPath, p.entries); err != nil {
				return err
			}
			if err := p.forgetSynced(e.ID); err != nil {
				return err
			}
			p.rep.Deleted++
			purged = true
			continue
		}

		if ts, ok := p.synced[e.ID]; ok && ts.Equal(e.LastModified) {
			continue
		}
		rec, err := p.c.cards.Read(p.deckPath, e.ID)
		if err != nil {
			if fatal(ctx, err) {
				return err
			}
			p.errs = append(p.errs, fmt.Errorf("reading card %s: %w", e.ID, err))
			continue
		}
		if err := p.c.remote.Put(ctx, p.cardPath(e.ID), rec.Data); err != nil {
			if ctx.Err() != nil {
				return err
			}
			p.errs = append(p.errs, fmt.Errorf("uploading card %s: %w", e.ID, err))
			continue
		}
		p.pushed[e.ID] = e.LastModified
		p.rep.Pushed++
	}

	if purged {
		p.c.logger.Debug("purged confirmed tombstones", "deck", p.key.String(), "count", p.rep.Deleted)
	}
	return nil
}

// uploadManifest publishes the local manifest when every entry made it to
// the remote, so the remote copy never lists a card it does not hold.
// Pushed revisions are watermarked only after that; a card whose blob was
// uploaded but is not yet listed must not look purged to the next pull.
func (p *deckPass) uploadManifest(ctx context.Context) error {
	if len(p.errs) > 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := manifest.Encode(&buf, p.entries, p.c.opts.Location); err != nil {
		return err
	}
	if p.remoteMissing || !bytes.Equal(buf.Bytes(), p.remoteRaw) {
		if err := p.c.remote.Put(ctx, p.manifestPath(), buf.Bytes()); err != nil {
			return fmt.Errorf("uploading manifest: %w", err)
		}
		p.rep.Uploaded = true
	}

	for id, ts := range p.pushed {
		if err := p.markSynced(id, ts); err != nil {
			return err
		}
	}
	return nil
}

func (p *deckPass) removeLocal(id string) error {
	if err := p.c.cards.Delete(p.deckPath, id); err != nil {
		return err
	}
	if i := p.index(id); i >= 0 {
		p.entries = append(p.entries[:i], p.entries[i+1:]...)
	}
	return p.forgetSynced(id)
}

func (p *deckPass) markSynced(id string, ts time.Time) error {
	if err := p.c.manifest.MarkSynced(p.deckPath, id, ts); err != nil {
		return err
	}
	p.synced[id] = ts
	return nil
}

func (p *deckPass) forgetSynced(id string) error {
	if err := p.c.manifest.ForgetSynced(p.deckPath, id); err != nil {
		return err
	}
	delete(p.synced, id)
	return nil
}
