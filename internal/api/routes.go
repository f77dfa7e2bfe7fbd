package api

import "github.com/gorilla/mux"

func registerRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")
	r.HandleFunc("/status", s.handleStatus).Methods("GET", "OPTIONS")
	r.HandleFunc("/files", s.handleFiles).Methods("GET", "OPTIONS")
	r.HandleFunc("/stats", s.handleStats).Methods("GET", "OPTIONS")
	r.HandleFunc("/events/stream", s.handleEventsStream).Methods("GET", "OPTIONS")
	r.HandleFunc("/events/count", s.handleEventsCount).Methods("GET", "OPTIONS")
	r.HandleFunc("/templates", s.handleTemplates).Methods("GET", "OPTIONS")
	r.HandleFunc("/template-index/status", s.handleTemplateIndexStatus).Methods("GET", "OPTIONS")
	r.HandleFunc("/template-index/templates", s.handleTemplateIndexTemplates).Methods("GET", "OPTIONS")
	r.HandleFunc("/template-index/files", s.handleTemplateIndexFiles).Methods("GET", "OPTIONS")
	r.HandleFunc("/template-index/build", s.handleTemplateIndexBuild).Methods("POST", "OPTIONS")
	r.HandleFunc("/scan", s.handleScan).Methods("POST", "OPTIONS")
	r.HandleFunc("/ingest", s.handleIngest).Methods("POST", "OPTIONS")
	r.HandleFunc("/cycle", s.handleCycle).Methods("POST", "OPTIONS")
	r.HandleFunc("/reset", s.handleReset).Methods("POST", "OPTIONS")
	r.HandleFunc("/vote-requests", s.handleVoteRequests).Methods("GET", "OPTIONS")
	r.HandleFunc("/vote-requests/build", s.handleVoteRequestsBuild).Methods("POST", "OPTIONS")
	r.HandleFunc("/sv-intervals", s.handleSvIntervals).Methods("GET", "OPTIONS")
	r.HandleFunc("/sv-intervals/build", s.handleSvIntervalsBuild).Methods("POST", "OPTIONS")
	r.HandleFunc("/dso-rules-intervals", s.handleDsoRulesIntervals).Methods("GET", "OPTIONS")
	r.HandleFunc("/dso-rules-intervals/build", s.handleDsoRulesIntervalsBuild).Methods("POST", "OPTIONS")
	r.HandleFunc("/reward-coupons/build", s.handleRewardCouponsBuild).Methods("POST", "OPTIONS")
}
