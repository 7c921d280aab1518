package domain

type UserRole string

const (
	UserRoleCustomer UserRole = "CUSTOMER"
	UserRoleManager  UserRole = "MANAGER"
)

type User struct {
	ID        int64    `json:"id"`
	Email     string   `json:"email"`
	Name      string   `json:"name"`
	Role      UserRole `json:"role"`
	CreatedOn string   `json:"created_on"`
}

func (u *User) IsPrivileged() bool {
	return u.Role == UserRoleManager
}
