package service

import (
	"context"
	"errors"
	"time"

	"link-tracker/pkg/logging"
	"link-tracker/pkg/storage"
)

// Cloaker hides and recovers destination URLs of cloaked links.
type Cloaker interface {
	Encode(plaintextURL string) (string, error)
	Decode(ciphertext string) (string, error)
}

type Outcome string

const (
	OutcomeNotFound Outcome = "not_found"
	OutcomeInactive Outcome = "inactive"
	OutcomeExpired  Outcome = "expired"
	OutcomeDirect   Outcome = "resolved_direct"
	OutcomeCloaked  Outcome = "resolved_cloaked"
	OutcomeError    Outcome = "error"
)

// OutcomeOf maps an error returned by Resolve to its outcome.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrInactive):
		return OutcomeInactive
	case errors.Is(err, ErrExpired):
		return OutcomeExpired
	default:
		return OutcomeError
	}
}

// Resolution is a successful lookup: the destination to send the client to
// and the link to account the click against.
type Resolution struct {
	Outcome     Outcome
	Destination string
	Link        storage.LinkRecord
	// DecodeFailed is set when a cloaked destination could not be decoded and
	// the plain original URL was used instead.
	DecodeFailed bool
}

type Resolver struct {
	store  storage.RecordStore
	codec  Cloaker
	logger *logging.Logger
	now    func() time.Time
}

func NewResolver(store storage.RecordStore, codec Cloaker, logger *logging.Logger) *Resolver {
	return &Resolver{store: store, codec: codec, logger: logger, now: time.Now}
}

// Resolve looks up code with a single read of the link collection and never
// writes. Checks run in order and the first match wins: unknown code
// (ErrNotFound), disabled (ErrInactive), past expiry (ErrExpired), then a
// cloaked or direct resolution. Any other error is a storage failure.
func (r *Resolver) Resolve(ctx context.Context, code string) (*Resolution, error) {
	res, err := r.resolve(ctx, code)
	outcome := OutcomeOf(err)
	if res != nil {
		outcome = res.Outcome
	}
	r.logger.LogResolution(ctx, code, string(outcome))
	return res, err
}

func (r *Resolver) resolve(ctx context.Context, code string) (*Resolution, error) {
	links, err := storage.ReadLinks(ctx, r.store)
	if err != nil {
		return nil, err
	}

	link, ok := findByCode(links, code)
	if !ok {
		return nil, ErrNotFound
	}
	if !link.Active {
		return nil, ErrInactive
	}
	if link.ExpiresAt != nil && link.ExpiresAt.Before(r.now()) {
		return nil, ErrExpired
	}

	if !link.Cloaked {
		return &Resolution{Outcome: OutcomeDirect, Destination: link.OriginalURL, Link: link}, nil
	}

	res := &Resolution{Outcome: OutcomeCloaked, Link: link}
	dest, err := r.codec.Decode(link.EncryptedDestination)
	if err != nil || dest == "" {
		r.logger.Warn(ctx, "cloaked destination decode failed, using original url", "link_id", link.ID)
		res.Destination = link.OriginalURL
		res.DecodeFailed = true
		return res, nil
	}
	res.Destination = dest
	return res, nil
}

func findByCode(links []storage.LinkRecord, code string) (storage.LinkRecord, bool) {
	if code == "" {
		return storage.LinkRecord{}, false
	}
	for _, l := range links {
		if l.ShortCode == code {
			return l, true
		}
	}
	return storage.LinkRecord{}, false
}
