package upload

import (
	"io"

	"github.com/indigo-web/harbor/http"
	"github.com/indigo-web/harbor/http/mime"
	"github.com/indigo-web/harbor/http/status"
	json "github.com/json-iterator/go"
	"github.com/rs/zerolog"
)

// Path is the only target uploads are accepted at.
const Path = "/upload"

// Store persists a document under a fresh unique name and returns its public path.
type Store interface {
	Store(data []byte) (string, error)
}

type result struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Filepath string `json:"filepath"`
}

type Handler struct {
	store Store
	log   zerolog.Logger
}

func New(store Store, log zerolog.Logger) *Handler {
	return &Handler{
		store: store,
		log:   log.With().Str("component", "upload").Logger(),
	}
}

// Handle validates the request body as JSON and persists it as is. Non-JSON content type
// results in status.ErrUnsupportedMediaType, malformed document in status.ErrInvalidJSON
// and a storage fault in status.ErrUploadFailed.
func (h *Handler) Handle(request *http.Request) (*http.Response, error) {
	if !mime.IsJSON(request.ContentType) {
		return nil, status.ErrUnsupportedMediaType
	}

	if !valid(request.Body) {
		return nil, status.ErrInvalidJSON
	}

	filepath, err := h.store.Store(request.Body)
	if err != nil {
		h.log.Warn().Err(err).Int("bytes", len(request.Body)).Msg("cannot store the upload")
		return nil, status.ErrUploadFailed
	}

	return http.NewResponse().
		Code(status.Created).
		TryJSON(result{
			Status:   "success",
			Message:  "File created successfully",
			Filepath: filepath,
		})
}

// valid reports whether the data is exactly one well-formed JSON value, optionally
// surrounded by whitespace.
func valid(data []byte) bool {
	iter := json.ConfigCompatibleWithStandardLibrary.BorrowIterator(data)
	defer json.ConfigCompatibleWithStandardLibrary.ReturnIterator(iter)

	iter.Skip()
	if iter.Error != nil && iter.Error != io.EOF {
		return false
	}

	// nothing but the end of input may follow
	return iter.WhatIsNext() == json.InvalidValue && iter.Error == io.EOF
}
