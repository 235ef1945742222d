package httpx

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nlambert/agrimarket/internal/market"
	"go.uber.org/zap"
)

type ProductStore interface {
	CreateProduct(ctx context.Context, caller market.Caller, p market.Product, initialStock int) (market.Product, error)
	ListProducts(ctx context.Context) ([]market.Product, error)
	SetStock(ctx context.Context, caller market.Caller, productID string, qty int) error
	EnsureOwner(ctx context.Context, caller market.Caller, productID string) error
}

type ProductsHandler struct {
	Store         ProductStore
	UploadDir     string
	MaxUploadSize int64
	Log           *zap.Logger
}

func (h *ProductsHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.With(RequireRole(market.RoleProducer)).Post("/products", h.createProduct)
	r.With(RequireRole(market.RoleProducer)).Patch("/products/{id}/stock", h.setStock)
	r.With(RequireRole(market.RoleProducer)).Post("/products/{id}/image", h.uploadImage)
}

type productResp struct {
	ProductID   string `json:"product_id"`
	ProducerID  string `json:"producer_id"`
	SKU         string `json:"sku"`
	Name        string `json:"name"`
	Unit        string `json:"unit"`
	Type        string `json:"type"`
	PriceCents  int    `json:"price_cents"`
	MinOrderQty int    `json:"min_order_qty"`
	IsAvailable bool   `json:"is_available"`
}

func toProductResp(p market.Product) productResp {
	return productResp{
		ProductID:   p.ID,
		ProducerID:  p.ProducerID,
		SKU:         p.SKU,
		Name:        p.Name,
		Unit:        p.Unit,
		Type:        p.Type,
		PriceCents:  p.PriceCents,
		MinOrderQty: p.MinOrderQty,
		IsAvailable: p.IsAvailable,
	}
}

func (h *ProductsHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Store.ListProducts(ctx)
	if err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	out := make([]productResp, 0, len(ps))
	for _, p := range ps {
		out = append(out, toProductResp(p))
	}
	writeJSON(w, http.StatusOK, out)
}

type createProductReq struct {
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Unit         string `json:"unit"`
	Type         string `json:"type"`
	PriceCents   int    `json:"price_cents"`
	MinOrderQty  int    `json:"min_order_qty"`
	LowStockAt   int    `json:"low_stock_at"`
	InitialStock int    `json:"initial_stock"`
}

func (h *ProductsHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())

	var req createProductReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(h.Log, w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p, err := h.Store.CreateProduct(ctx, caller, market.Product{
		SKU:         req.SKU,
		Name:        req.Name,
		Unit:        req.Unit,
		Type:        req.Type,
		PriceCents:  req.PriceCents,
		MinOrderQty: req.MinOrderQty,
		LowStockAt:  req.LowStockAt,
		IsAvailable: true,
	}, req.InitialStock)
	if err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResp(p))
}

type setStockReq struct {
	Quantity int `json:"quantity"`
}

func (h *ProductsHandler) setStock(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())

	var req setStockReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(h.Log, w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	productID := chi.URLParam(r, "id")
	if err := h.Store.SetStock(ctx, caller, productID, req.Quantity); err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": productID, "quantity": req.Quantity})
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}

// uploadImage stores a product image under UploadDir/products/<id>/.
// The stored name is a fresh uuid plus the original extension; nothing
// client-controlled reaches the filesystem path.
func (h *ProductsHandler) uploadImage(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	productID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.Store.EnsureOwner(ctx, caller, productID); err != nil {
		writeError(h.Log, w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadSize)
	if err := r.ParseMultipartForm(h.MaxUploadSize); err != nil {
		writeError(h.Log, w, r, market.Validationf("image too large or malformed upload"))
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(h.Log, w, r, market.Validationf("image field is required"))
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !imageExts[ext] {
		writeError(h.Log, w, r, market.Validationf("unsupported image type %s", ext))
		return
	}

	dir := filepath.Join(h.UploadDir, "products", productID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	name := uuid.NewString() + ext
	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		writeError(h.Log, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"product_id": productID,
		"path":       filepath.ToSlash(filepath.Join("products", productID, name)),
	})
}
