package model

// Identity 当前登录用户，由 bearer token 解析得到
type Identity struct {
	UserID      string   `json:"user_id"`
	DisplayName string   `json:"user_name"`
	Permissions []string `json:"permissions,omitempty"`
	Token       string   `json:"-"`
}

// HasPermission 是否持有某项能力
func (i *Identity) HasPermission(name string) bool {
	for _, p := range i.Permissions {
		if p == name {
			return true
		}
	}
	return false
}
