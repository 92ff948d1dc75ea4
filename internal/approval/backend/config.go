package backend

import (
	"strings"

	"approval-sync/internal/common/config"
	"approval-sync/internal/models"
)

// Resource is the route layout of one entity kind.
type Resource struct {
	// Segment is the first path element, e.g. "bussiness" in
	// /bussiness/admin/all.
	Segment string
	// CreatePath receives POSTed submissions.
	CreatePath string
	// OwnerListPath lists entities of one owner; "{id}" is replaced by the
	// owner ID.
	OwnerListPath string
}

// Config holds backend routing.
type Config struct {
	NotificationsPath string
	CommandMethod     string
	Resources         map[models.EntityKind]Resource
}

// NewConfig maps the application config onto backend routing.
func NewConfig(cfg config.BackendConfig) Config {
	method := strings.ToUpper(cfg.CommandMethod)
	if method == "" {
		method = "PUT"
	}
	return Config{
		NotificationsPath: cfg.NotificationsPath,
		CommandMethod:     method,
		Resources: map[models.EntityKind]Resource{
			models.KindBusiness: {
				Segment:       cfg.Business.Segment,
				CreatePath:    cfg.Business.CreatePath,
				OwnerListPath: cfg.Business.OwnerListPath,
			},
			models.KindProduct: {
				Segment:       cfg.Product.Segment,
				CreatePath:    cfg.Product.CreatePath,
				OwnerListPath: cfg.Product.OwnerListPath,
			},
		},
	}
}

// DefaultConfig matches the routes of the production backend.
func DefaultConfig() Config {
	return Config{
		NotificationsPath: "/notifications",
		CommandMethod:     "PUT",
		Resources: map[models.EntityKind]Resource{
			models.KindBusiness: {
				Segment:       "bussiness",
				CreatePath:    "/bussiness/registerBuss",
				OwnerListPath: "/bussiness/getBussById/{id}",
			},
			models.KindProduct: {
				Segment:       "product",
				CreatePath:    "/product/createproduct",
				OwnerListPath: "/product/business/{id}",
			},
		},
	}
}
