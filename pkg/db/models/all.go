package models

// All lists every persisted model, in dependency order, for gorm AutoMigrate on
// sqlite dev databases. Postgres schemas come from the goose migrations.
func All() []any {
	return []any{
		&AdminUser{},
		&ModelPricing{},
		&CreditBalance{},
		&CreditTransaction{},
		&Coupon{},
		&CouponRedemption{},
		&GalleryEntry{},
	}
}
