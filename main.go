package main

import "github.com/nimbusmail/mailsync/internal/app"

func main() {
	app.Execute()
}
