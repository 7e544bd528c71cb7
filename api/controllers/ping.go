package controllers

import (
	"net/http"

	"github.com/doncapon/yemisshop-sub004/api/middleware"
	"github.com/doncapon/yemisshop-sub004/api/responses"
)

func PublicPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"scope": "public", "status": "ok"})
	}
}

func AdminPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]string{"scope": "admin", "status": "ok"}
		if actor := middleware.ActorFromContext(r.Context()); actor != "" {
			payload["actor"] = actor
		}
		responses.WriteSuccess(w, payload)
	}
}
