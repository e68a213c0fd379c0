package httpapi

// RegisterForm creates an account.
type RegisterForm struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	FullName string `json:"full_name" binding:"required"`
}

// LoginForm exchanges credentials for a token pair.
type LoginForm struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RefreshForm rotates a refresh token.
type RefreshForm struct {
	Refresh string `json:"refresh" binding:"required"`
}

// LogoutForm revokes a refresh token.
type LogoutForm struct {
	Refresh string `json:"refresh" binding:"required"`
}

// ForgotPasswordForm initiates a password reset.
type ForgotPasswordForm struct {
	Email string `json:"email" binding:"required,email"`
}

// ResetPasswordForm completes a password reset with a single-use token.
type ResetPasswordForm struct {
	Token           string `json:"token" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8"`
	ConfirmPassword string `json:"confirm_password" binding:"required,eqfield=NewPassword"`
}
