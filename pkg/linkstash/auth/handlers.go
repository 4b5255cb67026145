package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/linkstash/pkg/linkstash/logging"
	"github.com/mikepea/linkstash/pkg/linkstash/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrEmailTaken is returned when signing up with an email that already has an account
var ErrEmailTaken = errors.New("email already exists")

// Handler handles authentication requests
type Handler struct {
	db     *gorm.DB
	issuer *TokenIssuer
	logger *zap.Logger
}

// NewHandler creates a new auth handler
func NewHandler(db *gorm.DB, issuer *TokenIssuer, logger *zap.Logger) *Handler {
	return &Handler{db: db, issuer: issuer, logger: logger}
}

// SignupRequest represents the signup request body
type SignupRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	Name     string `json:"name" binding:"max=100"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents the authentication response
type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

// UserResponse represents user data in responses
type UserResponse struct {
	ID    uint   `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func userToResponse(user models.User) UserResponse {
	return UserResponse{ID: user.ID, Email: user.Email, Name: user.Name}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser stores a new user with a hashed password.
// It returns ErrEmailTaken if the email is already registered.
func CreateUser(db *gorm.DB, email, password, name string) (*models.User, error) {
	hashedPassword, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := models.User{
		Email:        normalizeEmail(email),
		PasswordHash: hashedPassword,
		Name:         strings.TrimSpace(name),
	}
	if err := db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return &user, nil
}

// Signup handles user registration and returns a token for automatic login
func (h *Handler) Signup(c *gin.Context) {
	log := logging.FromContext(c, h.logger)

	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := CreateUser(h.db.WithContext(c.Request.Context()), req.Email, req.Password, req.Name)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			log.Info("signup with existing email", zap.String("email", normalizeEmail(req.Email)))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Email already exists"})
			return
		}
		log.Error("failed to create user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	token, err := h.issuer.GenerateToken(user.ID, user.Email)
	if err != nil {
		log.Error("failed to generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	log.Info("user signed up", zap.Uint("user_id", user.ID))
	c.JSON(http.StatusOK, AuthResponse{
		Token: token,
		User:  userToResponse(*user),
	})
}

// Login handles user login
func (h *Handler) Login(c *gin.Context) {
	log := logging.FromContext(c, h.logger)

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user models.User
	err := h.db.WithContext(c.Request.Context()).
		Where("email = ?", normalizeEmail(req.Email)).
		First(&user).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Error("failed to look up user", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	if !CheckPassword(req.Password, user.PasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := h.issuer.GenerateToken(user.ID, user.Email)
	if err != nil {
		log.Error("failed to generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, AuthResponse{
		Token: token,
		User:  userToResponse(user),
	})
}

// Me returns the current authenticated user
func (h *Handler) Me(c *gin.Context) {
	userID, exists := GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var user models.User
	if err := h.db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		logging.FromContext(c, h.logger).Error("failed to load user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": userToResponse(user)})
}

// RegisterRoutes registers auth routes on the given router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/signup", h.Signup)
	rg.POST("/login", h.Login)
	rg.GET("/me", AuthMiddleware(h.issuer), h.Me)
}
