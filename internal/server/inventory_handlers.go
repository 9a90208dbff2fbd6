package server

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/limiquantix/planner/internal/domain"
)

// Inventory endpoints feed the DRS engine with nodes, VMs and policies.

func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.repos.Nodes.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes, "total": len(nodes)})
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	n, err := s.repos.Nodes.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) createNode(w http.ResponseWriter, r *http.Request) {
	var n domain.Node
	if err := readJSON(w, r, &n); err != nil {
		s.writeError(w, err)
		return
	}
	if n.Status.Phase == "" {
		n.Status.Phase = domain.NodePhaseReady
	}
	created, err := s.repos.Nodes.Create(r.Context(), &n)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) updateNode(w http.ResponseWriter, r *http.Request) {
	var n domain.Node
	if err := readJSON(w, r, &n); err != nil {
		s.writeError(w, err)
		return
	}
	if err := sameID(chi.URLParam(r, "id"), &n.ID); err != nil {
		s.writeError(w, err)
		return
	}
	updated, err := s.repos.Nodes.Update(r.Context(), &n)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	hosted, err := s.repos.VMs.ListByNode(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(hosted) > 0 {
		s.writeError(w, fmt.Errorf("node %s hosts %d vms: %w", id, len(hosted), domain.ErrConflict))
		return
	}
	if err := s.repos.Nodes.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listVMs(w http.ResponseWriter, r *http.Request) {
	var (
		vms []*domain.VirtualMachine
		err error
	)
	if node := r.URL.Query().Get("node_id"); node != "" {
		vms, err = s.repos.VMs.ListByNode(r.Context(), node)
	} else {
		vms, err = s.repos.VMs.List(r.Context())
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vms": vms, "total": len(vms)})
}

func (s *Server) getVM(w http.ResponseWriter, r *http.Request) {
	vm, err := s.repos.VMs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vm)
}

func (s *Server) createVM(w http.ResponseWriter, r *http.Request) {
	var vm domain.VirtualMachine
	if err := readJSON(w, r, &vm); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.checkHost(r, &vm); err != nil {
		s.writeError(w, err)
		return
	}
	created, err := s.repos.VMs.Create(r.Context(), &vm)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) updateVM(w http.ResponseWriter, r *http.Request) {
	var vm domain.VirtualMachine
	if err := readJSON(w, r, &vm); err != nil {
		s.writeError(w, err)
		return
	}
	if err := sameID(chi.URLParam(r, "id"), &vm.ID); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.checkHost(r, &vm); err != nil {
		s.writeError(w, err)
		return
	}
	updated, err := s.repos.VMs.Update(r.Context(), &vm)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteVM(w http.ResponseWriter, r *http.Request) {
	if err := s.repos.VMs.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// checkHost rejects VMs placed on unknown nodes.
func (s *Server) checkHost(r *http.Request, vm *domain.VirtualMachine) error {
	if vm.Status.NodeID == "" {
		return nil
	}
	if _, err := s.repos.Nodes.Get(r.Context(), vm.Status.NodeID); err != nil {
		return fmt.Errorf("node %s: %w", vm.Status.NodeID, domain.ErrInvalidArgument)
	}
	return nil
}

func (s *Server) listPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := s.repos.Policies.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": policies, "total": len(policies)})
}

func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.repos.Policies.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) createPolicy(w http.ResponseWriter, r *http.Request) {
	var p domain.PlacementPolicy
	if err := readJSON(w, r, &p); err != nil {
		s.writeError(w, err)
		return
	}
	if !slices.Contains(s.registry.Constraints(), p.Type) {
		s.writeError(w, fmt.Errorf("policy type %q: %w", p.Type, domain.ErrInvalidArgument))
		return
	}
	created, err := s.repos.Policies.Create(r.Context(), &p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) deletePolicy(w http.ResponseWriter, r *http.Request) {
	if err := s.repos.Policies.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sameID fills an empty body id from the path and rejects mismatches.
func sameID(path string, id *string) error {
	if *id == "" {
		*id = path
	}
	if *id != path {
		return fmt.Errorf("id %q does not match path %q: %w", *id, path, domain.ErrInvalidArgument)
	}
	return nil
}
