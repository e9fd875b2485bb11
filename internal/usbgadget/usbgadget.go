// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package usbgadget manages the g_mass_storage kernel module that exposes
// the upload image to the printer as a USB thumb drive.
package usbgadget

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	// ModuleName is the kernel module providing the mass storage gadget.
	ModuleName = "g_mass_storage"

	// DefaultImagePath is the backing file exposed to the printer.
	DefaultImagePath = "/piusb.bin"

	// DefaultMountPoint is where the backing file is mounted on the agent.
	DefaultMountPoint = "/mnt/usb_share"
)

// moduleParams configure the gadget as a writable removable drive.
func moduleParams(image string) []string {
	return []string{
		"file=" + image,
		"removable=1",
		"ro=0",
		"stall=0",
		"nofua=1",
		"cdrom=0",
	}
}

// runner abstracts command execution so the manager is testable on hosts
// without the gadget stack.
type runner func(ctx context.Context, name string, args ...string) (stdout string, err error)

func execRunner(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}

	return stdout.String(), nil
}

// Installation describes which parts of the gadget setup are present.
type Installation struct {
	Installed  bool `json:"installed"`
	Image      bool `json:"image"`
	MountPoint bool `json:"mount_point"`
	BootConfig bool `json:"boot_config"`
	Fstab      bool `json:"fstab"`
}

// Status is the current runtime state of the gadget.
type Status struct {
	ModuleLoaded bool   `json:"module_loaded"`
	Mounted      bool   `json:"mounted"`
	MountPoint   string `json:"mount_point"`
	SetupType    string `json:"setup_type"`
}

// Manager drives the g_mass_storage module.
type Manager struct {
	ImagePath  string
	MountPoint string

	run    runner
	settle time.Duration
}

// NewManager returns a Manager with default paths.
func NewManager() *Manager {
	return &Manager{
		ImagePath:  DefaultImagePath,
		MountPoint: DefaultMountPoint,
		run:        execRunner,
		settle:     2 * time.Second,
	}
}

// CheckInstallation reports which parts of the persistent gadget setup
// exist on this host.
func (m *Manager) CheckInstallation() Installation {
	var inst Installation

	if _, err := os.Stat(m.ImagePath); err == nil {
		inst.Image = true
	}

	if _, err := os.Stat(m.MountPoint); err == nil {
		inst.MountPoint = true
	}

	if raw, err := os.ReadFile("/etc/rc.local"); err == nil {
		inst.BootConfig = strings.Contains(string(raw), ModuleName)
	}

	if raw, err := os.ReadFile("/etc/fstab"); err == nil {
		inst.Fstab = strings.Contains(string(raw), m.ImagePath)
	}

	inst.Installed = inst.Image && inst.MountPoint && inst.BootConfig && inst.Fstab

	return inst
}

// Status reports whether the module is loaded and the image is mounted.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	status := Status{
		MountPoint: m.MountPoint,
		SetupType:  ModuleName,
	}

	out, err := m.run(ctx, "lsmod")
	if err != nil {
		return status, fmt.Errorf("query loaded modules: %w", err)
	}

	status.ModuleLoaded = strings.Contains(out, ModuleName)

	if _, err := m.run(ctx, "mountpoint", "-q", m.MountPoint); err == nil {
		status.Mounted = true
	} else if raw, rerr := os.ReadFile("/proc/mounts"); rerr == nil {
		status.Mounted = strings.Contains(string(raw), m.MountPoint)
	}

	return status, nil
}

// Start loads the gadget module, presenting the image to the printer.
func (m *Manager) Start(ctx context.Context) error {
	args := append([]string{ModuleName}, moduleParams(m.ImagePath)...)

	if _, err := m.run(ctx, "modprobe", args...); err != nil {
		return fmt.Errorf("start usb gadget: %w", err)
	}

	log.Print("USB gadget started")

	return nil
}

// Stop unloads the gadget module, detaching the drive from the printer.
func (m *Manager) Stop(ctx context.Context) error {
	if _, err := m.run(ctx, "rmmod", ModuleName); err != nil {
		return fmt.Errorf("stop usb gadget: %w", err)
	}

	log.Print("USB gadget stopped")

	return nil
}

// Recover resets the gadget after USB or memory errors. Caches are dropped
// and the module is reloaded. The settle delays give the printer time to
// notice the drive going away and coming back.
func (m *Manager) Recover(ctx context.Context) error {
	log.Print("USB gadget recovery started")

	if _, err := m.run(ctx, "sh", "-c", "echo 1 > /proc/sys/vm/drop_caches"); err != nil {
		log.Printf("drop caches failed: %v", err)
	}

	if err := m.Stop(ctx); err != nil {
		log.Printf("recovery unload failed: %v", err)
	}

	if err := sleepCtx(ctx, m.settle); err != nil {
		return err
	}

	if err := m.Start(ctx); err != nil {
		return fmt.Errorf("recovery reload: %w", err)
	}

	if err := sleepCtx(ctx, m.settle); err != nil {
		return err
	}

	log.Print("USB gadget recovery completed")

	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
