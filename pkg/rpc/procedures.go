package rpc

const (
	AuthServiceName  = "rmcs.auth.v1.AuthService"
	TokenServiceName = "rmcs.auth.v1.TokenService"
)

const (
	AuthServiceUserLoginKeyProcedure = "/rmcs.auth.v1.AuthService/UserLoginKey"
	AuthServiceApiLoginKeyProcedure  = "/rmcs.auth.v1.AuthService/ApiLoginKey"
	AuthServiceUserLoginProcedure    = "/rmcs.auth.v1.AuthService/UserLogin"
	AuthServiceApiLoginProcedure     = "/rmcs.auth.v1.AuthService/ApiLogin"
	AuthServiceUserRefreshProcedure  = "/rmcs.auth.v1.AuthService/UserRefresh"
	AuthServiceUserLogoutProcedure   = "/rmcs.auth.v1.AuthService/UserLogout"
)

const (
	TokenServiceCreateAccessTokenProcedure = "/rmcs.auth.v1.TokenService/CreateAccessToken"
	TokenServiceCreateAuthTokenProcedure   = "/rmcs.auth.v1.TokenService/CreateAuthToken"
	TokenServiceReadAccessTokenProcedure   = "/rmcs.auth.v1.TokenService/ReadAccessToken"
	TokenServiceListAuthTokenProcedure     = "/rmcs.auth.v1.TokenService/ListAuthToken"
	TokenServiceListTokenByUserProcedure   = "/rmcs.auth.v1.TokenService/ListTokenByUser"
	TokenServiceUpdateAccessTokenProcedure = "/rmcs.auth.v1.TokenService/UpdateAccessToken"
	TokenServiceUpdateAuthTokenProcedure   = "/rmcs.auth.v1.TokenService/UpdateAuthToken"
	TokenServiceDeleteAccessTokenProcedure = "/rmcs.auth.v1.TokenService/DeleteAccessToken"
	TokenServiceDeleteAuthTokenProcedure   = "/rmcs.auth.v1.TokenService/DeleteAuthToken"
	TokenServiceDeleteTokenByUserProcedure = "/rmcs.auth.v1.TokenService/DeleteTokenByUser"
)
