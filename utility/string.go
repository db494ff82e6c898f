package utility

import (
	"log"
	"strconv"

	"github.com/google/uuid"
)

// ToFloat converts a sampled value string to a float, zero on failure
func ToFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		log.Println("parse float:", err)
		return 0
	}
	return f
}

// ToInt converts a string to an integer
func ToInt(s string) int {
	return int(ToFloat(s))
}

func NewUUID() string {
	return uuid.New().String()
}
