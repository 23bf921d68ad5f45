package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"csvload/internal/schema"
	"csvload/internal/storage"
	"csvload/internal/visualize"
)

// listOptions reads ?limit= and ?sort=. Values that do not parse are
// ignored rather than rejected.
func listOptions(r *http.Request) storage.ListOptions {
	var opt storage.ListOptions
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		opt.Limit = n
	}
	if s, err := storage.ParseSort(r.URL.Query().Get("sort")); err == nil {
		opt.Sort = s
	}
	return opt
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.cat.ListOrders(r.Context(), listOptions(r))
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.cat.GetOrder(r.Context(), r.PathValue("order_id"))
	if err != nil {
		s.writeError(w, r, err, "Order not found")
		return
	}
	s.writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var o schema.Order
	if err := decodeBody(r, &o); err != nil {
		s.writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.cat.CreateOrder(r.Context(), o); err != nil {
		s.writeError(w, r, err, "")
		return
	}
	s.writeMessage(w, http.StatusCreated, "Order created")
}

func (s *Server) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	var o schema.Order
	if err := decodeBody(r, &o); err != nil {
		s.writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.cat.UpdateOrder(r.Context(), r.PathValue("order_id"), o); err != nil {
		s.writeError(w, r, err, "Order not found")
		return
	}
	s.writeMessage(w, http.StatusOK, "Order updated")
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.cat.ListProducts(r.Context(), listOptions(r))
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, products)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.cat.GetProduct(r.Context(), r.PathValue("product_id"))
	if err != nil {
		s.writeError(w, r, err, "Product not found")
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var p schema.Product
	if err := decodeBody(r, &p); err != nil {
		s.writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.cat.CreateProduct(r.Context(), p); err != nil {
		s.writeError(w, r, err, "")
		return
	}
	s.writeMessage(w, http.StatusCreated, "Product created")
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var p schema.Product
	if err := decodeBody(r, &p); err != nil {
		s.writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.cat.UpdateProduct(r.Context(), r.PathValue("product_id"), p); err != nil {
		s.writeError(w, r, err, "Product not found")
		return
	}
	s.writeMessage(w, http.StatusOK, "Product updated")
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := s.cat.DeleteProduct(r.Context(), r.PathValue("product_id")); err != nil {
		s.writeError(w, r, err, "Product not found")
		return
	}
	s.writeMessage(w, http.StatusOK, "Product deleted")
}

func (s *Server) handleDropTable(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("tableName")
	if err := s.cat.DropTable(r.Context(), name); err != nil {
		s.writeError(w, r, err, "")
		return
	}
	s.writeMessage(w, http.StatusOK, fmt.Sprintf("Table '%s' dropped", name))
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	joined, err := s.cat.Join(r.Context())
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, joined)
}

func (s *Server) summary(r *http.Request) (visualize.Summary, error) {
	joined, err := s.cat.Join(r.Context())
	if err != nil {
		return visualize.Summary{}, err
	}
	products, err := s.cat.ListProducts(r.Context(), storage.ListOptions{})
	if err != nil {
		return visualize.Summary{}, err
	}
	return visualize.Summarize(joined, products), nil
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.summary(r)
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleCharts(w http.ResponseWriter, r *http.Request) {
	sum, err := s.summary(r)
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}
	var buf bytes.Buffer
	if err := visualize.Render(&buf, sum); err != nil {
		s.writeError(w, r, err, "")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}
