package domain

// UserProfile is the per-user record keyed by the LINE user id.
type UserProfile struct {
	UserID           string
	UserName         string
	DislikedFoods    string
	UsageCount       int
	UsageDate        string
	RegistrationDate string
	UpdateDate       string
	Mail             string
}

// UserUpdate is a sparse profile update. Empty fields are left untouched.
type UserUpdate struct {
	UserName      string
	DislikedFoods string
	UpdateDate    string
}

// IsEmpty reports whether the update would set no attribute at all.
func (u UserUpdate) IsEmpty() bool {
	return u.UserName == "" && u.DislikedFoods == "" && u.UpdateDate == ""
}

// ConversationTurn is one persisted exchange between the user and the bot.
type ConversationTurn struct {
	UserID  string
	Date    string
	Message string
	Reply   string
}

// AdoptedRecipe is a menu the user accepted.
type AdoptedRecipe struct {
	UserID string
	Date   string
	Recipe string
}
