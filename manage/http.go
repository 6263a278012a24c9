package manage

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/weaveworks/tcbridge/api"
	"github.com/weaveworks/tcbridge/bridge"
	"github.com/weaveworks/tcbridge/common"
)

func badRequest(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
	common.Log.Infof("[http] %v", err)
}

func serverError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusInternalServerError)
	common.Log.Warnf("[http] %v", err)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		common.Log.Warnf("[http] encoding response: %v", err)
	}
}

func ifindexVar(r *http.Request) (uint32, error) {
	s := mux.Vars(r)["ifindex"]
	ifindex, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid interface index %q", s)
	}
	if uint32(ifindex) == bridge.NoInterface {
		return 0, bridge.ErrReservedIfindex
	}
	return uint32(ifindex), nil
}

// HandleHTTP exposes p on router.
func HandleHTTP(router *mux.Router, p Plane) {
	router.Methods("PUT", "POST").Path("/members/{ifindex:[0-9]+}").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ifindex, err := ifindexVar(r)
		if err != nil {
			badRequest(w, err)
			return
		}
		if err := p.AddMember(ifindex); err != nil {
			serverError(w, fmt.Errorf("Unable to add member %d: %v", ifindex, err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	router.Methods("DELETE").Path("/members/{ifindex:[0-9]+}").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ifindex, err := ifindexVar(r)
		if err != nil {
			badRequest(w, err)
			return
		}
		if err := p.RemoveMember(ifindex); err != nil {
			serverError(w, fmt.Errorf("Unable to remove member %d: %v", ifindex, err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	router.Methods("GET").Path("/members").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		members, err := p.Members()
		if err != nil {
			serverError(w, err)
			return
		}
		if members == nil {
			members = []bridge.Member{}
		}
		writeJSON(w, members)
	})

	router.Methods("GET").Path("/mactable").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rows, err := p.Entries()
		if err != nil {
			serverError(w, err)
			return
		}
		writeJSON(w, api.NewMacEntries(rows))
	})
}
