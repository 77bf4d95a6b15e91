// Package signature captures and submits contract signatures, either typed
// initials or an uploaded image. Image content is never inspected.
package signature

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/hyperengineering/bidkit/internal/contracts"
	"github.com/hyperengineering/bidkit/internal/events"
	"github.com/hyperengineering/bidkit/internal/notify"
	"github.com/hyperengineering/bidkit/internal/types"
	"github.com/hyperengineering/bidkit/internal/validation"
	"github.com/hyperengineering/bidkit/pkg/bidapi"
)

// AdvisoryMaxBytes is the size shown to users as a guideline. It is not
// enforced.
const AdvisoryMaxBytes = 2 << 20

// AcceptedTypes are the image content types a signature may use.
var AcceptedTypes = []string{"image/jpeg", "image/png", "image/jpg"}

var acceptedExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// ErrEmpty is returned when neither initials nor an image were given.
var ErrEmpty = errors.New("initials or a signature image is required")

// File is an uploaded signature image.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// contentType resolves the declared type, falling back to the extension.
func (f File) contentType() string {
	if ct := strings.ToLower(strings.TrimSpace(f.ContentType)); ct != "" {
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			ct = strings.TrimSpace(ct[:i])
		}
		return ct
	}
	return acceptedExt[strings.ToLower(path.Ext(f.Name))]
}

// Capture is what the signer entered.
type Capture struct {
	Initials string
	File     *File
}

// HasFile reports whether an image was attached.
func (c Capture) HasFile() bool {
	return c.File != nil && len(c.File.Data) > 0
}

// Validate checks the initials length and the image type.
func (c Capture) Validate() error {
	var col validation.Collector
	c.Initials = strings.TrimSpace(c.Initials)
	if c.Initials == "" && !c.HasFile() {
		return ErrEmpty
	}
	col.Add(validation.ValidateInitials("initials", c.Initials))
	if c.HasFile() {
		if _, ok := acceptedExt[strings.ToLower(path.Ext(c.File.Name))]; !ok {
			col.Add(&validation.ValidationError{Field: "signature", Message: "must be a .jpg, .jpeg or .png file"})
		}
		col.Add(validation.ValidateEnum("signature", c.File.contentType(), AcceptedTypes))
	}
	return col.Err()
}

// Preview returns the image as a data URL, or "" when no image is attached.
func (c Capture) Preview() string {
	if !c.HasFile() {
		return ""
	}
	return "data:" + c.File.contentType() + ";base64," + base64.StdEncoding.EncodeToString(c.File.Data)
}

// API is the subset of the backend client used to sign.
type API interface {
	ClientSign(ctx context.Context, id string, in types.SignInput) (*types.Contract, error)
	ContractorSign(ctx context.Context, id string, in types.SignInput) (*types.Contract, error)
	UploadSignature(ctx context.Context, id string, up bidapi.SignatureUpload) (*types.Contract, error)
}

// Signer submits captures and refreshes the signed contract.
type Signer struct {
	api   API
	cache *contracts.Cache
	bus   events.Bus
}

// NewSigner creates a Signer. bus may be nil.
func NewSigner(api API, cache *contracts.Cache, bus events.Bus) *Signer {
	return &Signer{api: api, cache: cache, bus: bus}
}

// Submit signs a contract for party. An attached image goes to the upload
// endpoint; otherwise only the initials are sent. On success the contract
// is reloaded in full.
func (s *Signer) Submit(ctx context.Context, contractID string, party types.Party, c Capture, n notify.Notifier) (*types.Contract, error) {
	n = notify.OrDiscard(n)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	initials := strings.TrimSpace(c.Initials)

	var (
		ct  *types.Contract
		err error
	)
	switch {
	case c.HasFile():
		ct, err = s.api.UploadSignature(ctx, contractID, bidapi.SignatureUpload{
			Party:       party,
			Initials:    initials,
			Filename:    c.File.Name,
			ContentType: c.File.contentType(),
			Data:        bytes.NewReader(c.File.Data),
		})
	case party == types.PartyClient:
		ct, err = s.api.ClientSign(ctx, contractID, types.SignInput{Initials: initials})
	case party == types.PartyContractor:
		ct, err = s.api.ContractorSign(ctx, contractID, types.SignInput{Initials: initials})
	default:
		return nil, fmt.Errorf("unknown party %q", party)
	}
	if err != nil {
		n.Notify(notify.Error, "Failed to sign contract")
		slog.Error("contract sign failed",
			"component", "signature",
			"action", "sign_failed",
			"contract_id", contractID,
			"party", string(party),
			"error", err,
		)
		return nil, fmt.Errorf("sign contract %s: %w", contractID, err)
	}

	if fresh, err := s.cache.Reload(ctx, ct.ProposalID); err == nil {
		ct = fresh
	}
	if s.bus != nil {
		if err := s.bus.Publish(ctx, events.ContractChanged(ct.ProposalID)); err != nil {
			slog.Warn("event publish failed", "component", "signature", "error", err)
		}
	}

	n.Notify(notify.Success, "Contract signed successfully")
	slog.Info("contract signed",
		"component", "signature",
		"action", "signed",
		"contract_id", contractID,
		"proposal_id", ct.ProposalID,
		"party", string(party),
		"with_image", c.HasFile(),
	)
	return ct, nil
}
