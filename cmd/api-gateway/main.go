package main

import (
	"go.uber.org/fx"

	_ "github.com/noah-isme/academia-billing-api/api/swagger"
	"github.com/noah-isme/academia-billing-api/internal/app"
)

// @title Academia Billing API
// @version 1.0.0
// @description Enrollment billing and access lifecycle for gym tenants.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	fx.New(
		app.Core("api-gateway"),
		app.Logging,
		app.Jobs,
		app.HTTP,
	).Run()
}
