package middleware

import "net/http"

type contextKey string

// UserKey holds the email of the signed-in user.
const UserKey contextKey = "user_email"

// Email returns the signed-in user's email, if any.
func Email(r *http.Request) string {
	v, _ := r.Context().Value(UserKey).(string)
	return v
}

func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if Email(r) == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"sign in required"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
