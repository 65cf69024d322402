package catalog

import (
	"time"

	"github.com/google/uuid"
)

// ProductType discriminates the two reference tables a product id can
// resolve against.
type ProductType string

const (
	ProductMedicament ProductType = "Medicament"
	ProductDevice     ProductType = "Dispositif"
)

// Valid reports whether t is one of the two known product types.
func (t ProductType) Valid() bool {
	return t == ProductMedicament || t == ProductDevice
}

// Medicament maps to the medicament table. Identified by an opaque code
// assigned at catalog entry (e.g. "PARA500").
type Medicament struct {
	ID                 string     `db:"id" json:"id"`
	CommercialName     string     `db:"commercial_name" json:"commercial_name"`
	GenericName        string     `db:"generic_name" json:"generic_name"`
	Dosage             string     `db:"dosage" json:"dosage"`
	PharmaceuticalForm string     `db:"pharmaceutical_form" json:"pharmaceutical_form"`
	CategoryID         *uuid.UUID `db:"category_id" json:"category_id,omitempty"`
	Description        *string    `db:"description" json:"description,omitempty"`
	UnitPrice          float64    `db:"unit_price" json:"unit_price"`
	SaleUnit           string     `db:"sale_unit" json:"sale_unit"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// MedicalDevice maps to the medical_device table.
type MedicalDevice struct {
	ID              string    `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	Description     *string   `db:"description" json:"description,omitempty"`
	ManufacturerRef string    `db:"manufacturer_ref" json:"manufacturer_ref"`
	Category        *string   `db:"category" json:"category,omitempty"`
	SaleUnit        string    `db:"sale_unit" json:"sale_unit"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Category maps to the medicament_category table.
type Category struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
}

// ProductInfo is the common shape both product variants resolve to.
// Consumers that only need "does this product exist and what is it
// called" work against this instead of the concrete tables.
type ProductInfo struct {
	ID       string      `json:"id"`
	Type     ProductType `json:"type"`
	Name     string      `json:"name"`
	Detail   string      `json:"detail"`
	SaleUnit string      `json:"sale_unit"`
}
