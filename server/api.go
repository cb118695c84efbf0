package main

import (
	"net/http"
	"time"

	"village/gateway"
)

func (a *api) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", a.handleHealth)

	// auth
	mux.HandleFunc("POST /api/auth/register", a.withRateLimit("register", 10, time.Minute, a.handleRegister))
	mux.HandleFunc("POST /api/auth/login", a.withRateLimit("login", 20, time.Minute, a.handleLogin))
	mux.HandleFunc("POST /api/auth/logout", a.handleLogout)
	mux.HandleFunc("GET /api/auth/me", a.handleMe)

	mux.HandleFunc("GET /api/events", a.handleEvents)

	// maintenance
	mux.HandleFunc("GET /api/admin/jobs", a.requireJobSecret(a.handleListJobs))
	mux.HandleFunc("POST /api/admin/jobs/{name}", a.requireJobSecret(a.handleRunJob))

	// procedures
	fn := func(name string, h http.HandlerFunc) { mux.HandleFunc("POST /functions/v1/"+name, h) }
	fn(gateway.ProcCreateList, procedure(a, gateway.ProcCreateList, a.createList))
	fn(gateway.ProcGetUserLists, procedure(a, gateway.ProcGetUserLists, a.getUserLists))
	fn(gateway.ProcDeleteList, procedure(a, gateway.ProcDeleteList, a.deleteList))
	fn(gateway.ProcModifyList, procedure(a, gateway.ProcModifyList, a.modifyList))
	fn(gateway.ProcCreateTask, procedure(a, gateway.ProcCreateTask, a.createTask))
	fn(gateway.ProcGetListTasks, procedure(a, gateway.ProcGetListTasks, a.getListTasks))
	fn(gateway.ProcDeleteTask, procedure(a, gateway.ProcDeleteTask, a.deleteTask))
	fn(gateway.ProcModifyTask, procedure(a, gateway.ProcModifyTask, a.modifyTask))
	fn(gateway.ProcModifyTaskStatus, procedure(a, gateway.ProcModifyTaskStatus, a.modifyTaskStatus))
	fn(gateway.ProcGetUserGroups, procedure(a, gateway.ProcGetUserGroups, a.getUserGroups))
	fn(gateway.ProcCreateGroup, procedure(a, gateway.ProcCreateGroup, a.createGroup))
	fn(gateway.ProcAddUserToGroup, procedure(a, gateway.ProcAddUserToGroup, a.addUserToGroup))
	fn(gateway.ProcDeleteUserFromGroup, procedure(a, gateway.ProcDeleteUserFromGroup, a.deleteUserFromGroup))
	fn(gateway.ProcUpdateGroupMemberStatus, procedure(a, gateway.ProcUpdateGroupMemberStatus, a.updateGroupMemberStatus))
	fn(gateway.ProcInviteCandidates, procedure(a, gateway.ProcInviteCandidates, a.inviteCandidates))
	fn(gateway.ProcUpdateListGroup, procedure(a, gateway.ProcUpdateListGroup, a.updateListGroup))
	fn(gateway.ProcGetListGroups, procedure(a, gateway.ProcGetListGroups, a.getListGroups))
	fn(gateway.ProcRemoveListGroup, procedure(a, gateway.ProcRemoveListGroup, a.removeListGroup))
	fn(gateway.ProcGetTaskUsers, procedure(a, gateway.ProcGetTaskUsers, a.getTaskUsers))
	fn(gateway.ProcUpdateTaskUser, procedure(a, gateway.ProcUpdateTaskUser, a.updateTaskUser))
	fn(gateway.ProcSetupNewUser, procedure(a, gateway.ProcSetupNewUser, a.setupNewUser))
	fn(gateway.ProcAnonymizeUser, procedure(a, gateway.ProcAnonymizeUser, a.anonymizeUser))
}

func (a *api) handleEvents(w http.ResponseWriter, r *http.Request) {
	u, err := a.currentUser(r)
	if err != nil {
		a.fail(w, "events", err)
		return
	}
	a.bus.ServeSSE(w, r, u.ID)
}
