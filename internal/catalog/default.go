package catalog

import (
	"github.com/shopspring/decimal"

	"github.com/mysterybooks/storefront/internal/domain"
)

var defaultPrice = decimal.RequireFromString("5.00")

// Default returns a fresh copy of the embedded catalog used whenever the primary source fails.
// It always holds six genres with at least two books each.
func Default() domain.Catalog {
	book := func(title, author, description string) domain.Book {
		return domain.Book{Title: title, Author: author, Description: description, Price: defaultPrice}
	}
	return domain.Catalog{
		"mystery": {
			book("The Silent Patient", "Alex Michaelides", "A psychological thriller about a woman who refuses to speak after allegedly murdering her husband."),
			book("Gone Girl", "Gillian Flynn", "A dark psychological thriller about a marriage gone terribly wrong."),
		},
		"thriller": {
			book("The Da Vinci Code", "Dan Brown", "A symbologist and a cryptologist race to solve a murder and uncover a secret."),
			book("The Bourne Identity", "Robert Ludlum", "A man with no memory must discover his true identity while being hunted."),
		},
		"horror": {
			book("The Shining", "Stephen King", "A family becomes caretakers of a haunted hotel during the winter."),
			book("The Exorcist", "William Peter Blatty", "A young girl's demonic possession leads to a battle between good and evil."),
		},
		"romance": {
			book("The Notebook", "Nicholas Sparks", "A timeless love story about a couple separated by war and reunited years later."),
			book("Me Before You", "Jojo Moyes", "A heartwarming story about love, loss, and living life to the fullest."),
		},
		"fantasy": {
			book("The Hobbit", "J.R.R. Tolkien", "A classic fantasy adventure about a hobbit's unexpected journey."),
			book("Harry Potter and the Philosopher's Stone", "J.K. Rowling", "The magical story of a young wizard discovering his destiny."),
		},
		"sci-fi": {
			book("Dune", "Frank Herbert", "A science fiction epic about politics, religion, and ecology on a desert planet."),
			book("The Martian", "Andy Weir", "A science fiction thriller about an astronaut stranded on Mars."),
		},
	}
}

// DefaultGenres lists the genres guaranteed by Default, in display order.
func DefaultGenres() []string {
	return []string{"mystery", "thriller", "horror", "romance", "fantasy", "sci-fi"}
}
