// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package api

import (
	"context"
	"errors"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"github.com/samber/oops"

	"github.com/fittrack/fittrack/internal/artifact"
	"github.com/fittrack/fittrack/internal/resource"
	"github.com/fittrack/fittrack/pkg/errutil"
)

// imageField is the multipart field carrying the optional upload.
const imageField = "image"

// multipartMemory is the part of a multipart body kept in memory.
const multipartMemory = 1 << 20

type resourceResponse struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Owner     string         `json:"owner"`
	Payload   map[string]any `json:"payload"`
	Image     string         `json:"image,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

type deleteResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

func newResourceResponse(res *resource.Resource) resourceResponse {
	out := resourceResponse{
		ID:        res.ID.String(),
		Kind:      string(res.Kind),
		Owner:     res.OwnerID.String(),
		Payload:   res.Payload,
		CreatedAt: res.CreatedAt.UTC(),
		UpdatedAt: res.UpdatedAt.UTC(),
	}
	if out.Payload == nil {
		out.Payload = map[string]any{}
	}
	if res.ArtifactPath != "" {
		out.Image = "/uploads/images/" + filepath.Base(res.ArtifactPath)
	}
	return out
}

func (s *Server) handleListByOwner(w http.ResponseWriter, r *http.Request) {
	kind, err := pathKind(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ownerID, err := pathID(r, "uid")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.resources.ListByOwner(r.Context(), kind, ownerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]resourceResponse, 0, len(list))
	for _, res := range list {
		out = append(out, newResourceResponse(res))
	}
	ok(w, out)
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	kind, err := pathKind(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.resources.Get(r.Context(), kind, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, newResourceResponse(res))
}

// handleCreateResource accepts either a JSON payload or a multipart form
// whose fields form the payload and whose image part is stored first.
func (s *Server) handleCreateResource(w http.ResponseWriter, r *http.Request) {
	kind, err := pathKind(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	payload, upload, err := s.readCreateBody(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	var path string
	if upload != nil {
		path, err = s.storeUpload(r.Context(), upload)
		if err != nil {
			s.fail(w, r, err)
			return
		}
	}

	res, err := s.resources.LinkedCreate(r.Context(), kind, s.requester(r), payload, path)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	created(w, newResourceResponse(res))
}

func (s *Server) handleUpdateResource(w http.ResponseWriter, r *http.Request) {
	kind, err := pathKind(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var payload map[string]any
	if err := s.decode(w, r, &payload); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.resources.LinkedUpdate(r.Context(), kind, id, s.requester(r), payload)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, newResourceResponse(res))
}

func (s *Server) handleDeleteResource(w http.ResponseWriter, r *http.Request) {
	kind, err := pathKind(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.resources.LinkedDelete(r.Context(), kind, id, s.requester(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, deleteResponse{ID: id.String(), Deleted: true})
}

func (s *Server) readCreateBody(w http.ResponseWriter, r *http.Request) (map[string]any, *multipart.FileHeader, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		var payload map[string]any
		if err := s.decode(w, r, &payload); err != nil {
			return nil, nil, err
		}
		return payload, nil, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, nil, oops.Code(errutil.CodeValidation).
				With("max_bytes", s.cfg.MaxUploadBytes).
				Errorf("upload exceeds %d bytes", s.cfg.MaxUploadBytes)
		}
		return nil, nil, oops.Code(errutil.CodeValidation).Wrapf(err, "malformed multipart body")
	}

	form := r.MultipartForm
	payload := make(map[string]any, len(form.Value))
	for key, values := range form.Value {
		if len(values) == 1 {
			payload[key] = values[0]
			continue
		}
		payload[key] = values
	}

	files := form.File[imageField]
	switch len(files) {
	case 0:
		return payload, nil, nil
	case 1:
		return payload, files[0], nil
	}
	return nil, nil, oops.Code(errutil.CodeValidation).
		With("field", imageField).
		Errorf("only one %s may be uploaded", imageField)
}

func (s *Server) storeUpload(ctx context.Context, fh *multipart.FileHeader) (string, error) {
	ext, err := artifact.ExtensionFor(fh.Header.Get("Content-Type"))
	if err != nil {
		return "", err
	}
	f, err := fh.Open()
	if err != nil {
		return "", oops.Code(errutil.CodeValidation).With("field", imageField).Wrapf(err, "read upload")
	}
	defer f.Close()

	return s.artifacts.Write(ctx, ext, f)
}
