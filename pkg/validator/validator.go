package validator

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"
)

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func ValidateRegister(email, username, displayName, password string) ValidationErrors {
	errs := make(ValidationErrors)

	// Email
	email = strings.TrimSpace(email)
	if email == "" {
		errs.Add("email", "Email is required")
	} else if _, err := mail.ParseAddress(email); err != nil {
		errs.Add("email", "Invalid email address")
	}

	// Username
	username = strings.TrimSpace(username)
	if username == "" {
		errs.Add("username", "Username is required")
	} else if len(username) < 3 {
		errs.Add("username", "Username must be at least 3 characters")
	} else if len(username) > 50 {
		errs.Add("username", "Username is too long")
	} else if !usernameRegex.MatchString(username) {
		errs.Add("username", "Username can only contain letters, numbers, _ and -")
	}

	// Display name
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		errs.Add("display_name", "Display name is required")
	} else if len(displayName) < 2 {
		errs.Add("display_name", "Display name must be at least 2 characters")
	} else if len(displayName) > 100 {
		errs.Add("display_name", "Display name is too long")
	}

	validatePassword(password, errs)

	return errs
}

func ValidateLogin(email, password string) ValidationErrors {
	errs := make(ValidationErrors)

	email = strings.TrimSpace(email)
	if email == "" {
		errs.Add("email", "Email is required")
	} else if _, err := mail.ParseAddress(email); err != nil {
		errs.Add("email", "Invalid email address")
	}

	if password == "" {
		errs.Add("password", "Password is required")
	}

	return errs
}

// ValidateSendMessage checks a send payload before it reaches the relay:
// a message must carry text or a file, and text is capped.
func ValidateSendMessage(content string, hasFile bool) ValidationErrors {
	errs := make(ValidationErrors)

	if strings.TrimSpace(content) == "" && !hasFile {
		errs.Add("content", "Message needs text or a file")
	} else if len(content) > 4000 {
		errs.Add("content", "Message is too long")
	}

	return errs
}

func validatePassword(password string, errs ValidationErrors) {
	if password == "" {
		errs.Add("password", "Password is required")
		return
	}
	if len(password) < 8 {
		errs.Add("password", "Password must be at least 8 characters")
		return
	}
	if len(password) > 128 {
		errs.Add("password", "Password is too long")
		return
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		errs.Add("password", "Password must contain letters and numbers")
	}
}
