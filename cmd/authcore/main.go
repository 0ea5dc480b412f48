package main

import "github.com/tutorstack/authcore/app"

func main() {
	app.New(nil).Run()
}
