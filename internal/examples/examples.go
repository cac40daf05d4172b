// Package examples holds the curated program descriptions offered
// when the user does not supply one.
package examples

import (
	"math/rand/v2"
)

// Program is one ready-made program description.
type Program struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Catalog returns the built-in example programs.
func Catalog() []Program {
	return []Program{
		{
			ID:    "interleavings",
			Title: "String interleavings",
			Description: `Given two strings str1 and str2, prints all interleavings of the given
two strings. You may assume that all characters in both strings are
different. Input: str1 = "AB", str2 = "CD" ...`,
		},
		{
			ID:          "palindrome",
			Title:       "Palindrome check",
			Description: "A program that checks if a number is a palindrome",
		},
		{
			ID:          "kth-smallest-bst",
			Title:       "Kth smallest in a BST",
			Description: "A program that finds the kth smallest element in a given binary search tree",
		},
		{
			ID:          "prime",
			Title:       "Prime check",
			Description: "A program that gets number and check if it is prime",
		},
		{
			ID:          "gcd",
			Title:       "GCD of two numbers",
			Description: "A program that calculate the GCD of two numbers",
		},
	}
}

// Random picks one example program.
func Random() Program {
	catalog := Catalog()
	return catalog[rand.IntN(len(catalog))]
}

// ByID looks an example up by its ID.
func ByID(id string) (Program, bool) {
	for _, p := range Catalog() {
		if p.ID == id {
			return p, true
		}
	}
	return Program{}, false
}
