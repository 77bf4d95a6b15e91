package console

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/bidkit/internal/archive"
	"github.com/hyperengineering/bidkit/internal/contracts"
	"github.com/hyperengineering/bidkit/internal/notify"
	"github.com/hyperengineering/bidkit/internal/render"
	"github.com/hyperengineering/bidkit/internal/signature"
	"github.com/hyperengineering/bidkit/internal/types"
	"github.com/hyperengineering/bidkit/internal/validation"
)

type signRequest struct {
	Party    string `json:"party"`
	Initials string `json:"initials"`
}

// PreviewResponse shows a signature image before it is submitted.
type PreviewResponse struct {
	Preview      string `json:"preview"`
	Size         int    `json:"size"`
	AdvisoryMax  int    `json:"advisory_max_bytes"`
	OverAdvisory bool   `json:"over_advisory"`
}

// ArchiveResponse points at an archived contract PDF.
type ArchiveResponse struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GetContract handles GET /console/proposals/{id}/contract.
func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	wf := h.Contracts.For(chi.URLParam(r, "id"))
	if err := wf.Init(r.Context()); err != nil {
		MapError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, wf.Snapshot())
}

// GenerateContract handles POST /console/proposals/{id}/contract. When a
// contract already exists the response is a 409 revision_required problem
// and the form is held for ConfirmRevision.
func (h *Handler) GenerateContract(w http.ResponseWriter, r *http.Request) {
	var form types.ContractInput
	if !h.decodeJSON(w, r, &form) {
		return
	}
	wf := h.Contracts.For(chi.URLParam(r, "id"))
	if _, err := wf.Submit(r.Context(), form, NoticesFromContext(r.Context())); err != nil {
		MapError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusCreated, wf.Snapshot())
}

// ConfirmRevision handles POST /console/proposals/{id}/contract/revision.
func (h *Handler) ConfirmRevision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	notices := NoticesFromContext(ctx)
	wf := h.Contracts.For(chi.URLParam(r, "id"))

	_, err := wf.ConfirmRevision(ctx, notices)
	switch {
	case errors.Is(err, contracts.ErrVersionNotIncremented):
		// The revision was stored; only the version check failed.
		notices.Notify(notify.Error, "Revision saved but the contract version did not increase")
	case err != nil:
		MapError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, wf.Snapshot())
}

// CancelRevision handles DELETE /console/proposals/{id}/contract/revision.
func (h *Handler) CancelRevision(w http.ResponseWriter, r *http.Request) {
	wf := h.Contracts.For(chi.URLParam(r, "id"))
	if err := wf.CancelRevision(); err != nil {
		MapError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, wf.Snapshot())
}

// SignContract handles POST /console/proposals/{id}/contract/sign. The body
// is either multipart/form-data with party, initials and an optional
// signature image, or JSON with party and initials.
func (h *Handler) SignContract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	party, capture, ok := h.readSignature(w, r)
	if !ok {
		return
	}
	p, err := types.ParseParty(party)
	if err != nil {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{
			{Field: "party", Message: "must be client or contractor"},
		})
		return
	}

	ct, err := h.Contracts.Cache().Get(ctx, id)
	if err != nil {
		MapError(w, r, err)
		return
	}
	signed, err := h.Signer.Submit(ctx, ct.ID, p, capture, NoticesFromContext(ctx))
	if err != nil {
		MapError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, signed)
}

// PreviewSignature handles POST /console/proposals/{id}/contract/signature-preview.
func (h *Handler) PreviewSignature(w http.ResponseWriter, r *http.Request) {
	_, capture, ok := h.readSignature(w, r)
	if !ok {
		return
	}
	if !capture.HasFile() {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{
			{Field: "signature", Message: "an image is required"},
		})
		return
	}
	if err := capture.Validate(); err != nil {
		MapError(w, r, err)
		return
	}
	size := len(capture.File.Data)
	h.respond(w, r, http.StatusOK, PreviewResponse{
		Preview:      capture.Preview(),
		Size:         size,
		AdvisoryMax:  signature.AdvisoryMaxBytes,
		OverAdvisory: size > signature.AdvisoryMaxBytes,
	})
}

// readSignature decodes a sign request, writing a problem on failure.
func (h *Handler) readSignature(w http.ResponseWriter, r *http.Request) (string, signature.Capture, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req signRequest
		if !h.decodeJSON(w, r, &req) {
			return "", signature.Capture{}, false
		}
		return req.Party, signature.Capture{Initials: req.Initials}, true
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteProblem(w, r, http.StatusRequestEntityTooLarge, "Signature upload too large")
		} else {
			WriteProblem(w, r, http.StatusBadRequest, "Invalid multipart body")
		}
		return "", signature.Capture{}, false
	}
	capture := signature.Capture{Initials: r.FormValue("initials")}

	file, header, err := r.FormFile("signature")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		WriteProblem(w, r, http.StatusBadRequest, "Invalid signature file")
		return "", signature.Capture{}, false
	default:
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			WriteProblem(w, r, http.StatusBadRequest, "Invalid signature file")
			return "", signature.Capture{}, false
		}
		capture.File = &signature.File{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		}
	}
	return r.FormValue("party"), capture, true
}

// contractDocument gathers what the contract PDF prints.
func (h *Handler) contractDocument(r *http.Request, id string) (render.ContractDocument, error) {
	ctx := r.Context()
	ct, err := h.Contracts.Cache().Get(ctx, id)
	if err != nil {
		return render.ContractDocument{}, err
	}
	p, err := h.Backend.GetProposal(ctx, id)
	if err != nil {
		return render.ContractDocument{}, err
	}
	d := h.Proposals.Details(ctx, id)
	return render.NewContractDocument(*ct, *p, d.ElementValues, d.Categories, h.now()), nil
}

// ContractPDF handles GET /console/proposals/{id}/contract.pdf.
func (h *Handler) ContractPDF(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := h.contractDocument(r, id)
	if err != nil {
		MapError(w, r, err)
		return
	}
	data, err := render.ContractPDF(doc)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeAttachment(w, "application/pdf", render.ContractFilename(doc.Contract), data)
}

// ArchiveContract handles POST /console/proposals/{id}/contract/archive. The
// rendered PDF is stored under its version and a presigned link returned.
func (h *Handler) ArchiveContract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if _, noop := h.Archive.(archive.NoopUploader); noop {
		MapError(w, r, archive.ErrNotConfigured)
		return
	}

	doc, err := h.contractDocument(r, id)
	if err != nil {
		MapError(w, r, err)
		return
	}
	data, err := render.ContractPDF(doc)
	if err != nil {
		MapError(w, r, err)
		return
	}
	version := doc.Contract.Version
	if err := h.Archive.Upload(ctx, id, version, data); err != nil {
		MapError(w, r, fmt.Errorf("archive contract: %w", err))
		return
	}
	url, expires, err := h.Archive.PresignedURL(ctx, id, version)
	if err != nil {
		MapError(w, r, err)
		return
	}

	NoticesFromContext(ctx).Notify(notify.Success, fmt.Sprintf("Contract version %d archived", version))
	slog.Info("contract archived",
		"component", "console",
		"action", "archived",
		"proposal_id", id,
		"version", version,
		"bytes", len(data),
	)
	h.respond(w, r, http.StatusCreated, ArchiveResponse{
		Key:       archive.ObjectKey(id, version),
		URL:       url,
		ExpiresAt: expires,
	})
}
