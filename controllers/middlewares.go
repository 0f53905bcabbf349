package controllers

import (
	"fmt"
	"log"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"stylistapi/models"
)

func UserMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		db := c.Get("__db").(*gorm.DB)
		userRaw := c.Get("user")
		if userRaw == nil {
			return echo.ErrUnauthorized
		}
		user := userRaw.(*jwt.Token)
		claims := user.Claims.(jwt.MapClaims)
		userId := claims["sub"]
		if userId == nil || userId == "" {
			log.Println("Error while getting the token information!")
			return echo.ErrUnauthorized
		}

		var currentUser models.UserAccount
		r := db.Limit(1).Find(&currentUser, "id = ?", userId)
		if r.Error != nil {
			fmt.Println("Failed to fetch user info", r.Error)
			return echo.ErrInternalServerError
		}
		if r.RowsAffected == 0 {
			return echo.ErrUnauthorized
		}
		if currentUser.Banned {
			return echo.ErrForbidden
		}

		c.Set("currentUser", currentUser)
		fmt.Printf("Fetched user %s \n", currentUser.Name)
		return next(c)
	}
}
