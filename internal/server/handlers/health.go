// Package handlers holds the server-level HTTP handlers that do not
// belong to any module.
package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/talentvine/webdesk/internal/database"
)

var startedAt = time.Now()

// Health reports service liveness and database reachability.
func Health(c *gin.Context) {
	status := "ok"
	dbStatus := "ok"

	db := database.GetDB()
	if db == nil {
		status = "degraded"
		dbStatus = "not initialized"
	} else if sqlDB, err := db.DB(); err != nil || sqlDB.Ping() != nil {
		status = "degraded"
		dbStatus = "unreachable"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":         status,
		"database":       dbStatus,
		"uptime_seconds": int(time.Since(startedAt).Seconds()),
	})
}

// SystemInfo reports host resource usage. Recording sessions are
// memory heavy, so operators watch this during exam windows.
func SystemInfo(c *gin.Context) {
	info := gin.H{
		"go_version": runtime.Version(),
		"goroutines": runtime.NumGoroutine(),
	}

	if hostInfo, err := host.Info(); err == nil {
		info["hostname"] = hostInfo.Hostname
		info["os"] = hostInfo.OS
		info["platform"] = hostInfo.Platform
		info["uptime_seconds"] = hostInfo.Uptime
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		info["memory"] = gin.H{
			"total":        vm.Total,
			"available":    vm.Available,
			"used_percent": vm.UsedPercent,
		}
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		info["cpu_percent"] = percents[0]
	}

	if usage, err := disk.Usage("/"); err == nil {
		info["disk"] = gin.H{
			"total":        usage.Total,
			"free":         usage.Free,
			"used_percent": usage.UsedPercent,
		}
	}

	c.JSON(http.StatusOK, info)
}
