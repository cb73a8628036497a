package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bbn/patchbay/internal/engine"
	"github.com/bbn/patchbay/internal/store"
)

// patchSchema validates the authoring shape of a patch at the HTTP boundary.
// Structural invariants the engine enforces again at run time (unique ids,
// edge endpoints, acyclicity) are deliberately not duplicated here.
const patchSchemaJSON = `{
	"type": "object",
	"required": ["name", "nodes", "edges"],
	"properties": {
		"id": {"type": "string"},
		"name": {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"nodes": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "kind"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"kind": {"enum": ["local", "http"]},
					"fn": {"type": "string"},
					"url": {"type": "string"},
					"data": {"type": "object"}
				}
			}
		},
		"edges": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["source", "target"],
				"properties": {
					"source": {"type": "string", "minLength": 1},
					"target": {"type": "string", "minLength": 1}
				}
			}
		}
	}
}`

var patchSchema = mustCompileSchema(patchSchemaJSON)

func mustCompileSchema(src string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("patch.json", strings.NewReader(src)); err != nil {
		panic(err)
	}
	return c.MustCompile("patch.json")
}

func (s *Server) decodePatchBody(w http.ResponseWriter, r *http.Request) (*engine.Definition, bool) {
	raw, err := readBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return nil, false
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return nil, false
	}
	if err := patchSchema.Validate(generic); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid patch: "+err.Error())
		return nil, false
	}
	var def engine.Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid patch: "+err.Error())
		return nil, false
	}
	return &def, true
}

func (s *Server) handleCreatePatch(w http.ResponseWriter, r *http.Request) {
	def, ok := s.decodePatchBody(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(def.ID) == "" {
		s.writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	key := store.PatchKey(def.ID)
	if _, err := s.store.Get(r.Context(), key); err == nil {
		s.writeError(w, http.StatusConflict, "patch "+def.ID+" already exists")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	now := time.Now().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now
	if err := s.putPatch(r, def); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleListPatches(w http.ResponseWriter, r *http.Request) {
	keys, err := s.store.ListKeys(r.Context(), store.PatchPrefix())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	patches := make([]*engine.Definition, 0, len(keys))
	for _, key := range keys {
		raw, err := s.store.Get(r.Context(), key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		var def engine.Definition
		if err := json.Unmarshal(raw, &def); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		patches = append(patches, &def)
	}
	writeJSON(w, http.StatusOK, patches)
}

func (s *Server) loadPatch(r *http.Request, id string) (*engine.Definition, error) {
	raw, err := s.store.Get(r.Context(), store.PatchKey(id))
	if err != nil {
		return nil, err
	}
	var def engine.Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

func (s *Server) putPatch(r *http.Request, def *engine.Definition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return err
	}
	return s.store.Put(r.Context(), store.PatchKey(def.ID), raw)
}

func (s *Server) handleGetPatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	def, err := s.loadPatch(r, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "patch "+id+" not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleUpdatePatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := s.loadPatch(r, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "patch "+id+" not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	def, ok := s.decodePatchBody(w, r)
	if !ok {
		return
	}
	def.ID = id
	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = time.Now().UTC()
	if err := s.putPatch(r, def); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// handleDeletePatch removes the patch and attempts to delete every gear its
// nodes reference. Gear failures are logged and do not abort the patch
// deletion.
func (s *Server) handleDeletePatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	def, err := s.loadPatch(r, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "patch "+id+" not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	for _, node := range def.Nodes {
		gearID := node.Data.GearID
		if gearID == "" {
			continue
		}
		if err := s.gears.DeleteByID(r.Context(), gearID); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn().Str("patch_id", id).Str("gear_id", gearID).Err(err).Msg("cascade gear delete failed")
		}
	}

	if err := s.store.Delete(r.Context(), store.PatchKey(id)); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}
