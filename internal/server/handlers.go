package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bryan-buckman/curio/internal/apperr"
	"github.com/bryan-buckman/curio/internal/ingest"
	"github.com/bryan-buckman/curio/internal/model"
	"github.com/bryan-buckman/curio/internal/opml"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": s.db.DatabaseType()})
}

// --- Ingest ---

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	payloads, batch, err := ingest.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !batch {
		res, err := s.pipeline.Ingest(r.Context(), payloads[0])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		status := http.StatusOK
		if res.Created {
			status = http.StatusCreated
		}
		writeJSON(w, status, res)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": s.pipeline.IngestMany(r.Context(), payloads)})
}

// --- Query ---

type itemResponse struct {
	model.ItemView
	Key string `json:"key"`
}

type searchResponse struct {
	Items      []itemResponse   `json:"items"`
	Pagination model.Pagination `json:"pagination"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, err := parseSearch(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.db.Search(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := searchResponse{Items: make([]itemResponse, 0, len(res.Items)), Pagination: res.Pagination}
	for _, v := range res.Items {
		out.Items = append(out.Items, itemResponse{ItemView: v, Key: v.Key()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFacets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := parseFilter(q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	facets, err := s.db.Facets(r.Context(), model.FacetRequest{
		Filter:            f,
		SubcategoryParent: strings.TrimSpace(q.Get("subcategory_parent")),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, facets)
}

type itemDetail struct {
	Item      *model.Item      `json:"item"`
	Key       string           `json:"key"`
	Summaries []model.Revision `json:"summaries"`
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "itemID")
	it, err := s.db.GetItem(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if it == nil {
		s.writeError(w, r, apperr.NotFound(apperr.ReasonItemNotFound, "item %s not found", id))
		return
	}
	revs, err := s.db.ListLatest(r.Context(), it.ItemID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if revs == nil {
		revs = []model.Revision{}
	}
	writeJSON(w, http.StatusOK, itemDetail{Item: it, Key: it.Key(), Summaries: revs})
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "itemID")
	variant, err := model.ParseVariant(chi.URLParam(r, "variant"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("history") == "true" {
		revs, err := s.db.ListRevisions(r.Context(), id, variant)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if len(revs) == 0 {
			s.writeError(w, r, apperr.NotFound(apperr.ReasonRevisionNotFound, "no %s revisions for %s", variant, id))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revisions": revs})
		return
	}
	rev, err := s.db.GetLatest(r.Context(), id, variant)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rev == nil {
		s.writeError(w, r, apperr.NotFound(apperr.ReasonRevisionNotFound, "no %s revision for %s", variant, id))
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

// --- Delete ---

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "itemID")
	res, err := s.db.DeleteItems(r.Context(), []string{id})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !res[0].Deleted {
		s.writeError(w, r, apperr.NotFound(apperr.ReasonItemNotFound, "item %s not found", res[0].ItemID))
		return
	}
	writeJSON(w, http.StatusOK, res[0])
}

func (s *Server) handleDeleteItems(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemIDs []string `json:"item_ids"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, r, apperr.Validation(apperr.ReasonInvalidPayload, "invalid request: %v", err))
		return
	}
	if len(req.ItemIDs) == 0 {
		s.writeError(w, r, apperr.Validation(apperr.ReasonInvalidPayload, "item_ids is required"))
		return
	}
	res, err := s.db.DeleteItems(r.Context(), req.ItemIDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": res})
}

// --- Channels ---

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	chans, err := s.db.ListChannels(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if chans == nil {
		chans = []model.Channel{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": chans})
}

func (s *Server) handleAddChannel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title  string `json:"title"`
		URL    string `json:"url"`
		Source string `json:"source"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, r, apperr.Validation(apperr.ReasonInvalidPayload, "invalid request: %v", err))
		return
	}
	id, created, err := s.db.UpsertChannel(r.Context(), req.Title, req.URL, req.Source)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"id": id, "created": created})
}

func (s *Server) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "channelID"), 10, 64)
	if err != nil {
		s.writeError(w, r, apperr.Validation(apperr.ReasonInvalidPayload, "invalid channel id"))
		return
	}
	ok, err := s.db.DeleteChannel(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		s.writeError(w, r, apperr.NotFound(apperr.ReasonChannelNotFound, "channel %d not found", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	var body io.Reader
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("opml")
		if err != nil {
			s.writeError(w, r, apperr.Validation(apperr.ReasonInvalidPayload, "no file provided"))
			return
		}
		defer file.Close()
		body = file
	} else {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			s.writeError(w, r, apperr.Validation(apperr.ReasonInvalidPayload, "read body: %v", err))
			return
		}
		body = bytes.NewReader(data)
	}

	res, err := opml.Import(r.Context(), s.db, body, s.opts.DefaultSource)
	if err != nil {
		if apperr.KindOf(err) == "" {
			err = apperr.Validation(apperr.ReasonInvalidPayload, "%v", err)
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "imported": res.Added, "existing": res.Existing})
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	chans, err := s.db.ListChannels(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := opml.Export("Curio Channels", chans, time.Now())
	if err != nil {
		s.writeError(w, r, apperr.Infra("export opml", err))
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=curio-channels.opml")
	_, _ = w.Write(data)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	results, err := s.fetcher.FetchAll(ctx)
	if err != nil {
		s.writeError(w, r, apperr.Infra("refresh channels", err))
		return
	}
	total := 0
	for _, c := range results {
		total += c
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "new_items": total, "channels": len(results)})
}
