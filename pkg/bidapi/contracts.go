package bidapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/hyperengineering/bidkit/internal/types"
)

// GetContract returns one contract.
func (c *Client) GetContract(ctx context.Context, id string) (*types.Contract, error) {
	var ct types.Contract
	if err := c.do(ctx, http.MethodGet, "/contracts/"+escape(id), nil, nil, &ct); err != nil {
		return nil, err
	}
	return &ct, nil
}

// GetProposalContract returns the latest contract for a proposal. The error
// matches ErrNotFound when the proposal has none.
func (c *Client) GetProposalContract(ctx context.Context, proposalID string) (*types.Contract, error) {
	var ct types.Contract
	if err := c.do(ctx, http.MethodGet, "/proposals/"+escape(proposalID)+"/contract", nil, nil, &ct); err != nil {
		return nil, err
	}
	return &ct, nil
}

// ClientSign records the client's initials on a contract.
func (c *Client) ClientSign(ctx context.Context, id string, in types.SignInput) (*types.Contract, error) {
	return c.sign(ctx, id, "client-sign", in)
}

// ContractorSign records the contractor's initials on a contract.
func (c *Client) ContractorSign(ctx context.Context, id string, in types.SignInput) (*types.Contract, error) {
	return c.sign(ctx, id, "contractor-sign", in)
}

func (c *Client) sign(ctx context.Context, id, action string, in types.SignInput) (*types.Contract, error) {
	var ct types.Contract
	if err := c.do(ctx, http.MethodPost, "/contracts/"+escape(id)+"/"+action, nil, in, &ct); err != nil {
		return nil, err
	}
	return &ct, nil
}

// SignatureUpload is a signature image and the optional initials sent with it.
type SignatureUpload struct {
	Party       types.Party
	Initials    string
	Filename    string
	ContentType string
	Data        io.Reader
}

// UploadSignature posts a signature image as multipart/form-data.
func (c *Client) UploadSignature(ctx context.Context, id string, up SignatureUpload) (*types.Contract, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("party", string(up.Party)); err != nil {
		return nil, err
	}
	if up.Initials != "" {
		if err := mw.WriteField("initials", up.Initials); err != nil {
			return nil, err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="signature"; filename=%q`, up.Filename))
	if up.ContentType != "" {
		h.Set("Content-Type", up.ContentType)
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, up.Data); err != nil {
		return nil, fmt.Errorf("write signature: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	path := "/contracts/" + escape(id) + "/signature"
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, &buf, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}
	data, err := c.send(req, path)
	if err != nil {
		return nil, err
	}

	var ct types.Contract
	if err := json.Unmarshal(data, &ct); err != nil {
		return nil, fmt.Errorf("%w: POST %s: %v", ErrInvalidResponse, BasePath+path, err)
	}
	return &ct, nil
}
