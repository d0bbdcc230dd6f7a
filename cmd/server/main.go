package main

import "udensfiltri/internal/app"

// @title        Udens Filtri API
// @version      1.0
// @description  Accounts with one-time codes, cookie sessions and Stripe checkout.
// @BasePath     /
func main() {
	app.Run()
}
