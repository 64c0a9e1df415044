package tables

import (
	"github.com/JonMunkholm/stockimport/internal/core"
)

func init() {
	registerSuppliers()
}

func registerSuppliers() {
	core.Register(core.Definition{
		Key:         "suppliers",
		Label:       "Supplier",
		Table:       "suppliers",
		ConflictKey: "name",
		Fields: []core.FieldSpec{
			{Name: "name", Type: core.FieldText, Required: true, RequiredMessage: "Nama supplier wajib diisi", Example: "PT Sumber Makmur"},
			{Name: "email", Type: core.FieldEmail, Optional: true, InvalidMessage: "Format email tidak valid", Example: "sales@sumbermakmur.co.id"},
			{Name: "phone", Type: core.FieldText, Example: "0812-3456-7890"},
			{Name: "address", Type: core.FieldText, Example: "Jl. Merdeka No. 10, Bandung"},
			{
				Name: "rating", Type: core.FieldNumeric, Optional: true, Min: bound(1), Max: bound(5),
				InvalidMessage: "Rating harus angka 1-5", RangeMessage: "Rating harus angka 1-5", Example: "4",
			},
		},
		KeyFields:       []string{"name"},
		IdentifierField: "name",
		BuildPayload:    buildSupplierPayload,
		SuccessMessage: func(row core.ImportRow) string {
			return "Supplier " + row.Field("name") + " berhasil disimpan"
		},
	})
}

func buildSupplierPayload(row core.ImportRow, _ core.References) (map[string]any, error) {
	rating, err := ParseDecimal(row.Field("rating"))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"name":    row.Field("name"),
		"email":   nullable(row.Field("email")),
		"phone":   nullable(NormalizePhone(row.Field("phone"))),
		"address": nullable(row.Field("address")),
		"rating":  rating,
	}, nil
}
