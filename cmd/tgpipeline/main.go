package main

import (
	// Schedules name IANA zones; embed the database for minimal images.
	_ "time/tzdata"
)

func main() {
	Execute()
}
