package models

// Category is the answer a room is about. Rooms may be "mixed" (twins);
// votes pick one of male or female.
type Category string

const (
	CategoryMale   Category = "male"
	CategoryFemale Category = "female"
	CategoryMixed  Category = "mixed"
)

func (c Category) ValidForRoom() bool {
	return c == CategoryMale || c == CategoryFemale || c == CategoryMixed
}

func (c Category) ValidForVote() bool {
	return c == CategoryMale || c == CategoryFemale
}

// Matches reports whether a vote guessing c is a correct guess for a room
// whose answer is answer. Nobody guesses "mixed", so a mixed room has no
// correct guesses.
func (c Category) Matches(answer Category) bool {
	return c == answer
}

// All returns every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Room{},
		&Vote{},
	}
}
