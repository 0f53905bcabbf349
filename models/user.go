package models

import "time"

type UserAccount struct {
	JsonModel
	Name     string `json:"name"`
	Email    string `json:"email" gorm:"unique"`
	Password string `json:"-"`
	Banned   bool   `gorm:"default:false" json:"-"`
	LastIp   string `json:"-"`
	//"STARTED_AUTH", "FINISHED_AUTH"
	Status              string     `json:"-"`
	GoogleID            string     `json:"-"`
	AppleID             string     `json:"-"`
	UTMSource           string     `json:"utm_source"`
	Platform            Platform   `sql:"type:ENUM('ios', 'android', 'web')" json:"platform"`
	Subscription        *string    `json:"subscription"`
	ExpirationDate      *time.Time `json:"-"`
	ConfirmedDeleteDate *time.Time `json:"-"`
	// Notifications settings
	ReceiveNotifications bool `json:"receive_notifications"`
	IsSuperadmin         bool `json:"is_superadmin"`
	// user app image/avatar
	AvatarURL string `json:"avatar_url"`

	FullBodyAvatarSet bool `json:"full_body_avatar_set"`
	// user full body photo, used as the subject for outfit visualizations
	UserFullBodyImageURL *string `json:"user_image_url"`

	// free-tier overrides, nil means the defaults apply
	EnforcedDailySuggestLimit  *int32 `json:"-"`
	EnforcedDailyWardrobeLimit *int32 `json:"-"`
}

type UserPushToken struct {
	JsonModel
	UserAccountID uint
	UserAccount   UserAccount `json:"user_account"`
	Platform      Platform    `sql:"type:ENUM('ios', 'android', 'web')" json:"platform"`
	Token         string      `json:"token"`
	Active        bool        `gorm:"default:false" json:"-"`
}

type UserPushIn struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

type UserSettingsIn struct {
	ReceiveNotifications bool `json:"receive_notifications"`
}
