package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vetlabs/pawsync/internal/model"
	"github.com/vetlabs/pawsync/internal/ui"
)

var petCmd = &cobra.Command{
	Use:     "pet",
	GroupID: "records",
	Short:   "Manage pet records",
}

var petAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a pet (queued for sync)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		species, _ := cmd.Flags().GetString("species")
		breed, _ := cmd.Flags().GetString("breed")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		pet := &model.Pet{OwnerID: owner, Name: args[0], Species: species, Breed: breed}
		item, err := a.svc.SavePet(cmd.Context(), pet)
		if err != nil {
			return err
		}

		fmt.Printf("%s added pet %s (queued as item %d)\n", ui.RenderPass("✓"), ui.RenderAccent(pet.ID), item.ID)
		return nil
	},
}

var petListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pets",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		pets, err := listPets(a, cmd, owner)
		if err != nil {
			return err
		}
		if len(pets) == 0 {
			fmt.Println(ui.RenderMuted("no pets"))
			return nil
		}
		for _, pet := range pets {
			fmt.Printf("%s  %-20s %-8s %s\n", ui.RenderAccent(pet.ID), pet.Name, pet.Species, ui.RenderMuted(pet.Breed))
		}
		return nil
	},
}

func listPets(a *app, cmd *cobra.Command, owner string) ([]*model.Pet, error) {
	if owner != "" {
		return a.pets.ListByOwner(cmd.Context(), owner)
	}
	return a.pets.List(cmd.Context())
}

var petRemoveCmd = &cobra.Command{
	Use:   "rm <pet-id>",
	Short: "Delete a pet (queued for sync)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if _, err := a.svc.DeletePet(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("%s deleted pet %s\n", ui.RenderPass("✓"), args[0])
		return nil
	},
}

var medCmd = &cobra.Command{
	Use:     "med",
	GroupID: "records",
	Short:   "Manage medication records",
}

var medAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a medication for a pet (queued for sync)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		petID, _ := cmd.Flags().GetString("pet")
		dosage, _ := cmd.Flags().GetString("dosage")
		frequency, _ := cmd.Flags().GetString("frequency")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		med := &model.Medication{PetID: petID, Name: args[0], Dosage: dosage, Frequency: frequency, Active: true}
		item, err := a.svc.SaveMedication(cmd.Context(), med)
		if err != nil {
			return err
		}

		fmt.Printf("%s added medication %s (queued as item %d)\n", ui.RenderPass("✓"), ui.RenderAccent(med.ID), item.ID)
		return nil
	},
}

var medListCmd = &cobra.Command{
	Use:   "list <pet-id>",
	Short: "List medications for a pet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		meds, err := a.meds.ListByPet(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(meds) == 0 {
			fmt.Println(ui.RenderMuted("no medications"))
			return nil
		}
		for _, med := range meds {
			state := ui.RenderMuted("inactive")
			if med.Active {
				state = ui.RenderPass("active")
			}
			fmt.Printf("%s  %-20s %-10s %-12s %s\n", ui.RenderAccent(med.ID), med.Name, med.Dosage, med.Frequency, state)
		}
		return nil
	},
}

var favCmd = &cobra.Command{
	Use:     "fav",
	GroupID: "records",
	Short:   "Manage favorites",
}

var favAddCmd = &cobra.Command{
	Use:   "add <type> <ref-id>",
	Short: "Add a favorite (queued for sync)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		label, _ := cmd.Flags().GetString("label")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		fav := &model.Favorite{Type: args[0], RefID: args[1], Label: label}
		item, err := a.svc.SaveFavorite(cmd.Context(), fav)
		if err != nil {
			return err
		}

		fmt.Printf("%s added favorite %s (queued as item %d)\n", ui.RenderPass("✓"), ui.RenderAccent(fav.ID), item.ID)
		return nil
	},
}

var favListCmd = &cobra.Command{
	Use:   "list [type]",
	Short: "List favorites, optionally by type",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		var favs []*model.Favorite
		var err2 error
		if len(args) == 1 {
			favs, err2 = a.favs.ListByType(cmd.Context(), args[0])
		} else {
			favs, err2 = a.favs.List(cmd.Context())
		}
		if err2 != nil {
			return err2
		}

		if len(favs) == 0 {
			fmt.Println(ui.RenderMuted("no favorites"))
			return nil
		}
		for _, fav := range favs {
			fmt.Printf("%s  %-10s %-20s %s\n", ui.RenderAccent(fav.ID), fav.Type, fav.RefID, ui.RenderMuted(fav.Label))
		}
		return nil
	},
}

func init() {
	petAddCmd.Flags().String("owner", "", "Owner id")
	petAddCmd.Flags().String("species", "", "Species (dog, cat, ...)")
	petAddCmd.Flags().String("breed", "", "Breed")
	petListCmd.Flags().String("owner", "", "Filter by owner id")
	petCmd.AddCommand(petAddCmd, petListCmd, petRemoveCmd)

	medAddCmd.Flags().String("pet", "", "Pet id the medication belongs to")
	medAddCmd.Flags().String("dosage", "", "Dosage, e.g. 5mg")
	medAddCmd.Flags().String("frequency", "", "Frequency, e.g. twice daily")
	medCmd.AddCommand(medAddCmd, medListCmd)

	favAddCmd.Flags().String("label", "", "Display label")
	favCmd.AddCommand(favAddCmd, favListCmd)

	rootCmd.AddCommand(petCmd, medCmd, favCmd)
}
