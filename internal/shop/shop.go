package shop

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/Suhaibinator/SDispatch/pkg/dispatch"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Config configures the shop.
type Config struct {
	Title  string
	Store  Store       // Defaults to a new MemoryStore
	Logger *zap.Logger // Defaults to a no-op logger

	// Admin pages require basic auth when AdminUser is set.
	AdminUser     string
	AdminPassword string
}

// Shop holds the handlers of the shop.
type Shop struct {
	config Config
	store  Store
	logger *zap.Logger
	views  *views
	guides []Guide
}

// New creates a Shop, parsing its templates and rendering its guides.
func New(config Config) (*Shop, error) {
	if config.Title == "" {
		config.Title = "Shop"
	}
	if config.Store == nil {
		config.Store = NewMemoryStore()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	v, err := loadViews(config.Title)
	if err != nil {
		return nil, err
	}
	guides, err := LoadGuides(guideFS, "guides")
	if err != nil {
		return nil, err
	}

	return &Shop{
		config: config,
		store:  config.Store,
		logger: config.Logger,
		views:  v,
		guides: guides,
	}, nil
}

// Routes registers the shop's handlers on table. Order matters: the site-wide header
// and the admin guard run before the page handlers.
func (s *Shop) Routes(table *dispatch.RouteTable) error {
	var errs []error
	add := func(err error) { errs = append(errs, err) }

	add(table.RegisterFunc("/", s.poweredBy))
	if s.config.AdminUser != "" {
		add(table.Register("/admin", &BasicAuth{
			Realm:       s.config.Title + " admin",
			Credentials: map[string]string{s.config.AdminUser: s.config.AdminPassword},
			Logger:      s.logger,
		}))
	}
	add(table.HandleFunc(http.MethodGet, "/admin/add-product", s.addProductForm))
	add(table.HandleFunc(http.MethodPost, "/admin/add-product", s.addProduct))
	add(table.HandleFunc(http.MethodGet, "/admin/products", s.listProducts))
	add(table.HandleFunc(http.MethodGet, "/", s.home))
	add(table.HandleFunc(http.MethodPost, "/message", s.message))
	add(table.Register("/guides", newGuidesHandler("/guides", s.guides, s.views)))

	return multierr.Combine(errs...)
}

// NotFound is the dispatcher's not-found handler.
func (s *Shop) NotFound() dispatch.Handler {
	return dispatch.HandlerFunc(func(req *dispatch.Request, res *dispatch.Response, next dispatch.Next) error {
		return s.views.render(res, http.StatusNotFound, "404", "Page not found", req.Path)
	})
}

func (s *Shop) poweredBy(req *dispatch.Request, res *dispatch.Response, next dispatch.Next) error {
	res.Set("X-Powered-By", "SDispatch")
	return next()
}

func (s *Shop) home(req *dispatch.Request, res *dispatch.Response, next dispatch.Next) error {
	products, err := s.store.List(req.Context())
	if err != nil {
		return err
	}
	return s.views.render(res, http.StatusOK, "shop", "Products", products)
}

// productForm is the add-product form as submitted, with its validation errors.
type productForm struct {
	Title       string
	Price       string
	Description string
	Errors      []string
}

func (f *productForm) validate() (Product, bool) {
	p := Product{Title: f.Title, Description: f.Description}

	switch {
	case f.Title == "":
		f.Errors = append(f.Errors, "Title is required.")
	case len(f.Title) > 120:
		f.Errors = append(f.Errors, "Title must be at most 120 characters.")
	}

	price, err := strconv.ParseFloat(f.Price, 64)
	switch {
	case f.Price == "":
		f.Errors = append(f.Errors, "Price is required.")
	case err != nil, math.IsNaN(price), math.IsInf(price, 0):
		f.Errors = append(f.Errors, "Price must be a number.")
	case price < 0:
		f.Errors = append(f.Errors, "Price must not be negative.")
	default:
		p.Price = price
	}

	return p, len(f.Errors) == 0
}

func (s *Shop) addProductForm(req *dispatch.Request, res *dispatch.Response, next dispatch.Next) error {
	return s.views.render(res, http.StatusOK, "add-product", "Add product", productForm{})
}

func (s *Shop) addProduct(req *dispatch.Request, res *dispatch.Response, next dispatch.Next) error {
	form := productForm{
		Title:       strings.TrimSpace(req.Body.String("title")),
		Price:       strings.TrimSpace(req.Body.String("price")),
		Description: strings.TrimSpace(req.Body.String("description")),
	}

	p, ok := form.validate()
	if !ok {
		return s.views.render(res, http.StatusBadRequest, "add-product", "Add product", form)
	}

	p, err := s.store.Add(req.Context(), p)
	if err != nil {
		return fmt.Errorf("add product: %w", err)
	}

	fields := []zap.Field{zap.String("id", p.ID), zap.String("title", p.Title)}
	if user, ok := req.Get("user"); ok {
		fields = append(fields, zap.Any("user", user))
	}
	s.logger.Info("Product added", fields...)

	return res.Redirect(http.StatusSeeOther, "/")
}

func (s *Shop) listProducts(req *dispatch.Request, res *dispatch.Response, next dispatch.Next) error {
	products, err := s.store.List(req.Context())
	if err != nil {
		return err
	}
	return res.JSON(map[string]any{"products": products})
}

func (s *Shop) message(req *dispatch.Request, res *dispatch.Response, next dispatch.Next) error {
	msg := strings.TrimSpace(req.Body.String("message"))
	if msg == "" {
		return dispatch.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	return res.SendString("Your message: " + msg)
}
