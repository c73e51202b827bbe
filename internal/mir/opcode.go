/*
 * Copyright 2022 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package mir

import (
    `fmt`
)

// Op is a target opcode.
type Op uint16

const (
    OpInvalid Op = iota

    /* pseudo instructions */
    COPY
    IMPLICIT_DEF
    PHI
    EXEC_REGION_ENTER
    EXEC_REGION_EXIT
    SI_IF
    SI_ELSE
    SI_IF_BREAK
    SI_LOOP
    SI_END_CF
    STRICT_WWM
    WWM_COPY
    ENTER_STRICT_WWM
    EXIT_STRICT_WWM
    V_SET_INACTIVE_B32
    SI_SPILL_S_SAVE
    SI_SPILL_S_RESTORE
    SI_SPILL_V_SAVE
    SI_SPILL_V_RESTORE
    SI_RETURN
    SI_TCRETURN
    SI_CALL
    ATOMIC_FENCE
    S_BRANCH_LONG
    S_CBRANCH_SCC0_LONG
    S_CBRANCH_SCC1_LONG
    S_CBRANCH_VCCZ_LONG
    S_CBRANCH_VCCNZ_LONG
    S_CBRANCH_EXECZ_LONG
    S_CBRANCH_EXECNZ_LONG

    /* scalar ALU */
    S_MOV_B32
    S_MOV_B64
    S_MOV_B64_term
    S_ADD_U32
    S_ADDC_U32
    S_SUB_U32
    S_AND_B64
    S_OR_B64
    S_XOR_B64
    S_ANDN2_B64
    S_OR_B64_term
    S_XOR_B64_term
    S_ANDN2_B64_term
    S_AND_SAVEEXEC_B64
    S_OR_SAVEEXEC_B64
    S_CMP_EQ_U32
    S_CMP_LG_U32

    /* scalar memory */
    S_LOAD_DWORD
    S_LOAD_DWORDX2
    S_SCRATCH_LOAD_DWORD
    S_SCRATCH_STORE_DWORD

    /* program control */
    S_BRANCH
    S_CBRANCH_SCC0
    S_CBRANCH_SCC1
    S_CBRANCH_VCCZ
    S_CBRANCH_VCCNZ
    S_CBRANCH_EXECZ
    S_CBRANCH_EXECNZ
    S_ENDPGM
    S_NOP
    S_WAITCNT
    S_BARRIER
    S_CLAUSE

    /* vector ALU */
    V_MOV_B32_e32
    V_MOV_B32_dpp
    V_ADD_U32_e32
    V_ADD_U32_e64
    V_ADD_U32_dpp
    V_SUB_U32_e32
    V_SUB_U32_e64
    V_MUL_F32_e32
    V_MUL_F32_e64
    V_MUL_F32_dpp
    V_AND_B32_e32
    V_AND_B32_e64
    V_MAC_F32_e32
    V_CMP_LT_I32_e32
    V_CMP_LT_I32_e64
    V_CNDMASK_B32_e64
    V_READFIRSTLANE_B32

    /* vector memory */
    GLOBAL_LOAD_DWORD
    GLOBAL_LOAD_DWORDX2
    GLOBAL_STORE_DWORD
    GLOBAL_STORE_DWORDX2
    SCRATCH_LOAD_DWORD
    SCRATCH_STORE_DWORD
    BUFFER_WBINVL1

    _N_ops
)

// OpFlags are the static properties of an opcode.
type OpFlags uint32

const (
    F_Pseudo OpFlags = 1 << iota
    F_Branch
    F_Conditional
    F_Terminator
    F_Return
    F_Call
    F_SideEffects
    F_MayLoad
    F_MayStore
    F_SALU
    F_VALU
    F_SMEM
    F_VMEM
    F_Copy
    F_Marker
    F_VOP3
    F_DPP
    F_Commutable
    F_Long
)

// OpInfo is the target description of an opcode.
type OpInfo struct {
    Name    string
    Flags   OpFlags
    Size    int     // encoded size in bytes
    Defs    int     // number of explicit defs
    Short   Op      // short form of a long branch
    Long    Op      // long form of a short branch
    E32     Op      // VOP2 form of a VOP3 instruction
    E64     Op      // VOP3 form of a VOP2 instruction
    DPP     Op      // DPP form
    Wide    Op      // double-width memory access
    Imm     uint8   // mask of explicit uses accepting an immediate
    Tied    int8    // explicit use tied to the first def, or -1
    Base    int8    // argument holding the memory base register, or -1
    Offset  int8    // argument holding the memory offset immediate, or -1
    Bytes   int     // memory access width
    ImpDefs []Reg
    ImpUses []Reg
}

var (
    _E  = []Reg { EXEC }
    _S  = []Reg { SCC }
    _V  = []Reg { VCC }
    _ES = []Reg { EXEC, SCC }
    _EV = []Reg { EXEC, VCC }
)

var _OpTab = [_N_ops]OpInfo {
    COPY                  : { Name: "COPY"               , Flags: F_Pseudo | F_Copy, Defs: 1 },
    IMPLICIT_DEF          : { Name: "IMPLICIT_DEF"       , Flags: F_Pseudo, Defs: 1 },
    PHI                   : { Name: "PHI"                , Flags: F_Pseudo, Defs: 1 },
    EXEC_REGION_ENTER     : { Name: "EXEC_REGION_ENTER"  , Flags: F_Pseudo | F_Marker },
    EXEC_REGION_EXIT      : { Name: "EXEC_REGION_EXIT"   , Flags: F_Pseudo | F_Marker },
    SI_IF                 : { Name: "SI_IF"              , Flags: F_Pseudo | F_Branch | F_Conditional | F_Terminator, Defs: 1, ImpDefs: _ES, ImpUses: _E },
    SI_ELSE               : { Name: "SI_ELSE"            , Flags: F_Pseudo | F_Branch | F_Conditional | F_Terminator, Defs: 1, ImpDefs: _ES, ImpUses: _E },
    SI_IF_BREAK           : { Name: "SI_IF_BREAK"        , Flags: F_Pseudo, Defs: 1, ImpDefs: _S, ImpUses: _E },
    SI_LOOP               : { Name: "SI_LOOP"            , Flags: F_Pseudo | F_Branch | F_Conditional | F_Terminator, ImpDefs: _ES, ImpUses: _E },
    SI_END_CF             : { Name: "SI_END_CF"          , Flags: F_Pseudo | F_SideEffects, ImpDefs: _ES, ImpUses: _E },
    STRICT_WWM            : { Name: "STRICT_WWM"         , Flags: F_Pseudo, Defs: 1, ImpUses: _E },
    WWM_COPY              : { Name: "WWM_COPY"           , Flags: F_Pseudo | F_Copy, Defs: 1 },
    ENTER_STRICT_WWM      : { Name: "ENTER_STRICT_WWM"   , Flags: F_Pseudo | F_SideEffects, Defs: 1, Size: 4, ImpDefs: _ES, ImpUses: _E },
    EXIT_STRICT_WWM       : { Name: "EXIT_STRICT_WWM"    , Flags: F_Pseudo | F_SideEffects, Size: 4, ImpDefs: _E },
    V_SET_INACTIVE_B32    : { Name: "V_SET_INACTIVE_B32" , Flags: F_Pseudo | F_VALU, Defs: 1, Size: 16, Imm: 0b10, ImpUses: _E },
    SI_SPILL_S_SAVE       : { Name: "SI_SPILL_S_SAVE"    , Flags: F_Pseudo | F_MayStore, Base: -1, Offset: -1 },
    SI_SPILL_S_RESTORE    : { Name: "SI_SPILL_S_RESTORE" , Flags: F_Pseudo | F_MayLoad, Defs: 1, Base: -1, Offset: -1 },
    SI_SPILL_V_SAVE       : { Name: "SI_SPILL_V_SAVE"    , Flags: F_Pseudo | F_MayStore, Base: -1, Offset: -1 },
    SI_SPILL_V_RESTORE    : { Name: "SI_SPILL_V_RESTORE" , Flags: F_Pseudo | F_MayLoad, Defs: 1, Base: -1, Offset: -1 },
    SI_RETURN             : { Name: "SI_RETURN"          , Flags: F_Pseudo | F_Return | F_Terminator, Size: 4 },
    SI_TCRETURN           : { Name: "SI_TCRETURN"        , Flags: F_Pseudo | F_Return | F_Terminator | F_Call, Size: 4 },
    SI_CALL               : { Name: "SI_CALL"            , Flags: F_Pseudo | F_Call | F_SideEffects | F_MayLoad | F_MayStore, Defs: 1, Size: 4 },
    ATOMIC_FENCE          : { Name: "ATOMIC_FENCE"       , Flags: F_Pseudo | F_SideEffects | F_MayLoad | F_MayStore },
    S_BRANCH_LONG         : { Name: "S_BRANCH_LONG"        , Flags: F_Pseudo | F_Long | F_Branch | F_Terminator, Size: 20, Short: S_BRANCH },
    S_CBRANCH_SCC0_LONG   : { Name: "S_CBRANCH_SCC0_LONG"  , Flags: F_Pseudo | F_Long | F_Branch | F_Conditional | F_Terminator, Size: 24, Short: S_CBRANCH_SCC0, ImpUses: _S },
    S_CBRANCH_SCC1_LONG   : { Name: "S_CBRANCH_SCC1_LONG"  , Flags: F_Pseudo | F_Long | F_Branch | F_Conditional | F_Terminator, Size: 24, Short: S_CBRANCH_SCC1, ImpUses: _S },
    S_CBRANCH_VCCZ_LONG   : { Name: "S_CBRANCH_VCCZ_LONG"  , Flags: F_Pseudo | F_Long | F_Branch | F_Conditional | F_Terminator, Size: 24, Short: S_CBRANCH_VCCZ, ImpUses: _EV },
    S_CBRANCH_VCCNZ_LONG  : { Name: "S_CBRANCH_VCCNZ_LONG" , Flags: F_Pseudo | F_Long | F_Branch | F_Conditional | F_Terminator, Size: 24, Short: S_CBRANCH_VCCNZ, ImpUses: _EV },
    S_CBRANCH_EXECZ_LONG  : { Name: "S_CBRANCH_EXECZ_LONG" , Flags: F_Pseudo | F_Long | F_Branch | F_Conditional | F_Terminator, Size: 24, Short: S_CBRANCH_EXECZ, ImpUses: _E },
    S_CBRANCH_EXECNZ_LONG : { Name: "S_CBRANCH_EXECNZ_LONG", Flags: F_Pseudo | F_Long | F_Branch | F_Conditional | F_Terminator, Size: 24, Short: S_CBRANCH_EXECNZ, ImpUses: _E },

    S_MOV_B32             : { Name: "S_MOV_B32"          , Flags: F_SALU, Size: 4, Defs: 1, Imm: 0b1 },
    S_MOV_B64             : { Name: "S_MOV_B64"          , Flags: F_SALU, Size: 4, Defs: 1, Imm: 0b1 },
    S_MOV_B64_term        : { Name: "S_MOV_B64_term"     , Flags: F_SALU | F_Terminator, Size: 4, Defs: 1 },
    S_ADD_U32             : { Name: "S_ADD_U32"          , Flags: F_SALU | F_Commutable, Size: 4, Defs: 1, Imm: 0b11, ImpDefs: _S },
    S_ADDC_U32            : { Name: "S_ADDC_U32"         , Flags: F_SALU | F_Commutable, Size: 4, Defs: 1, Imm: 0b11, ImpDefs: _S, ImpUses: _S },
    S_SUB_U32             : { Name: "S_SUB_U32"          , Flags: F_SALU, Size: 4, Defs: 1, Imm: 0b11, ImpDefs: _S },
    S_AND_B64             : { Name: "S_AND_B64"          , Flags: F_SALU | F_Commutable, Size: 4, Defs: 1, Imm: 0b11, ImpDefs: _S },
    S_OR_B64              : { Name: "S_OR_B64"           , Flags: F_SALU | F_Commutable, Size: 4, Defs: 1, Imm: 0b11, ImpDefs: _S },
    S_XOR_B64             : { Name: "S_XOR_B64"          , Flags: F_SALU | F_Commutable, Size: 4, Defs: 1, Imm: 0b11, ImpDefs: _S },
    S_ANDN2_B64           : { Name: "S_ANDN2_B64"        , Flags: F_SALU, Size: 4, Defs: 1, Imm: 0b11, ImpDefs: _S },
    S_OR_B64_term         : { Name: "S_OR_B64_term"      , Flags: F_SALU | F_Terminator, Size: 4, Defs: 1, ImpDefs: _S },
    S_XOR_B64_term        : { Name: "S_XOR_B64_term"     , Flags: F_SALU | F_Terminator, Size: 4, Defs: 1, ImpDefs: _S },
    S_ANDN2_B64_term      : { Name: "S_ANDN2_B64_term"   , Flags: F_SALU | F_Terminator, Size: 4, Defs: 1, ImpDefs: _S },
    S_AND_SAVEEXEC_B64    : { Name: "S_AND_SAVEEXEC_B64" , Flags: F_SALU, Size: 4, Defs: 1, ImpDefs: _ES, ImpUses: _E },
    S_OR_SAVEEXEC_B64     : { Name: "S_OR_SAVEEXEC_B64"  , Flags: F_SALU, Size: 4, Defs: 1, ImpDefs: _ES, ImpUses: _E },
    S_CMP_EQ_U32          : { Name: "S_CMP_EQ_U32"       , Flags: F_SALU | F_Commutable, Size: 4, Imm: 0b11, ImpDefs: _S },
    S_CMP_LG_U32          : { Name: "S_CMP_LG_U32"       , Flags: F_SALU | F_Commutable, Size: 4, Imm: 0b11, ImpDefs: _S },

    S_LOAD_DWORD          : { Name: "S_LOAD_DWORD"         , Flags: F_SMEM | F_MayLoad, Size: 8, Defs: 1, Base: 1, Offset: 2, Bytes: 4, Wide: S_LOAD_DWORDX2 },
    S_LOAD_DWORDX2        : { Name: "S_LOAD_DWORDX2"       , Flags: F_SMEM | F_MayLoad, Size: 8, Defs: 1, Base: 1, Offset: 2, Bytes: 8 },
    S_SCRATCH_LOAD_DWORD  : { Name: "S_SCRATCH_LOAD_DWORD" , Flags: F_SMEM | F_MayLoad, Size: 8, Defs: 1, Base: 1, Offset: 2, Bytes: 4 },
    S_SCRATCH_STORE_DWORD : { Name: "S_SCRATCH_STORE_DWORD", Flags: F_SMEM | F_MayStore, Size: 8, Base: 1, Offset: 2, Bytes: 4 },

    S_BRANCH              : { Name: "S_BRANCH"           , Flags: F_Branch | F_Terminator, Size: 4, Long: S_BRANCH_LONG },
    S_CBRANCH_SCC0        : { Name: "S_CBRANCH_SCC0"     , Flags: F_Branch | F_Conditional | F_Terminator, Size: 4, Long: S_CBRANCH_SCC0_LONG, ImpUses: _S },
    S_CBRANCH_SCC1        : { Name: "S_CBRANCH_SCC1"     , Flags: F_Branch | F_Conditional | F_Terminator, Size: 4, Long: S_CBRANCH_SCC1_LONG, ImpUses: _S },
    S_CBRANCH_VCCZ        : { Name: "S_CBRANCH_VCCZ"     , Flags: F_Branch | F_Conditional | F_Terminator, Size: 4, Long: S_CBRANCH_VCCZ_LONG, ImpUses: _EV },
    S_CBRANCH_VCCNZ       : { Name: "S_CBRANCH_VCCNZ"    , Flags: F_Branch | F_Conditional | F_Terminator, Size: 4, Long: S_CBRANCH_VCCNZ_LONG, ImpUses: _EV },
    S_CBRANCH_EXECZ       : { Name: "S_CBRANCH_EXECZ"    , Flags: F_Branch | F_Conditional | F_Terminator, Size: 4, Long: S_CBRANCH_EXECZ_LONG, ImpUses: _E },
    S_CBRANCH_EXECNZ      : { Name: "S_CBRANCH_EXECNZ"   , Flags: F_Branch | F_Conditional | F_Terminator, Size: 4, Long: S_CBRANCH_EXECNZ_LONG, ImpUses: _E },
    S_ENDPGM              : { Name: "S_ENDPGM"           , Flags: F_Return | F_Terminator, Size: 4 },
    S_NOP                 : { Name: "S_NOP"              , Flags: F_SideEffects, Size: 4 },
    S_WAITCNT             : { Name: "S_WAITCNT"          , Flags: F_SideEffects, Size: 4 },
    S_BARRIER             : { Name: "S_BARRIER"          , Flags: F_SideEffects, Size: 4 },
    S_CLAUSE              : { Name: "S_CLAUSE"           , Flags: F_SideEffects, Size: 4 },

    V_MOV_B32_e32         : { Name: "V_MOV_B32_e32"      , Flags: F_VALU, Size: 4, Defs: 1, Imm: 0b1, DPP: V_MOV_B32_dpp, ImpUses: _E },
    V_MOV_B32_dpp         : { Name: "V_MOV_B32_dpp"      , Flags: F_VALU | F_DPP, Size: 8, Defs: 1, ImpUses: _E },
    V_ADD_U32_e32         : { Name: "V_ADD_U32_e32"      , Flags: F_VALU | F_Commutable, Size: 4, Defs: 1, Imm: 0b01, E64: V_ADD_U32_e64, DPP: V_ADD_U32_dpp, ImpUses: _E },
    V_ADD_U32_e64         : { Name: "V_ADD_U32_e64"      , Flags: F_VALU | F_VOP3 | F_Commutable, Size: 8, Defs: 1, Imm: 0b11, E32: V_ADD_U32_e32, ImpUses: _E },
    V_ADD_U32_dpp         : { Name: "V_ADD_U32_dpp"      , Flags: F_VALU | F_DPP, Size: 8, Defs: 1, ImpUses: _E },
    V_SUB_U32_e32         : { Name: "V_SUB_U32_e32"      , Flags: F_VALU, Size: 4, Defs: 1, Imm: 0b01, E64: V_SUB_U32_e64, ImpUses: _E },
    V_SUB_U32_e64         : { Name: "V_SUB_U32_e64"      , Flags: F_VALU | F_VOP3, Size: 8, Defs: 1, Imm: 0b11, E32: V_SUB_U32_e32, ImpUses: _E },
    V_MUL_F32_e32         : { Name: "V_MUL_F32_e32"      , Flags: F_VALU | F_Commutable, Size: 4, Defs: 1, Imm: 0b01, E64: V_MUL_F32_e64, DPP: V_MUL_F32_dpp, ImpUses: _E },
    V_MUL_F32_e64         : { Name: "V_MUL_F32_e64"      , Flags: F_VALU | F_VOP3 | F_Commutable, Size: 8, Defs: 1, Imm: 0b11, E32: V_MUL_F32_e32, ImpUses: _E },
    V_MUL_F32_dpp         : { Name: "V_MUL_F32_dpp"      , Flags: F_VALU | F_DPP, Size: 8, Defs: 1, ImpUses: _E },
    V_AND_B32_e32         : { Name: "V_AND_B32_e32"      , Flags: F_VALU | F_Commutable, Size: 4, Defs: 1, Imm: 0b01, E64: V_AND_B32_e64, ImpUses: _E },
    V_AND_B32_e64         : { Name: "V_AND_B32_e64"      , Flags: F_VALU | F_VOP3 | F_Commutable, Size: 8, Defs: 1, Imm: 0b11, E32: V_AND_B32_e32, ImpUses: _E },
    V_MAC_F32_e32         : { Name: "V_MAC_F32_e32"      , Flags: F_VALU, Size: 4, Defs: 1, Imm: 0b001, Tied: 2, ImpUses: _E },
    V_CMP_LT_I32_e32      : { Name: "V_CMP_LT_I32_e32"   , Flags: F_VALU, Size: 4, Imm: 0b01, E64: V_CMP_LT_I32_e64, ImpDefs: _V, ImpUses: _E },
    V_CMP_LT_I32_e64      : { Name: "V_CMP_LT_I32_e64"   , Flags: F_VALU | F_VOP3, Size: 8, Defs: 1, Imm: 0b11, E32: V_CMP_LT_I32_e32, ImpUses: _E },
    V_CNDMASK_B32_e64     : { Name: "V_CNDMASK_B32_e64"  , Flags: F_VALU | F_VOP3, Size: 8, Defs: 1, Imm: 0b011, ImpUses: _E },
    V_READFIRSTLANE_B32   : { Name: "V_READFIRSTLANE_B32", Flags: F_VALU, Size: 4, Defs: 1, ImpUses: _E },

    GLOBAL_LOAD_DWORD     : { Name: "GLOBAL_LOAD_DWORD"   , Flags: F_VMEM | F_MayLoad, Size: 8, Defs: 1, Base: 1, Offset: 2, Bytes: 4, Wide: GLOBAL_LOAD_DWORDX2, ImpUses: _E },
    GLOBAL_LOAD_DWORDX2   : { Name: "GLOBAL_LOAD_DWORDX2" , Flags: F_VMEM | F_MayLoad, Size: 8, Defs: 1, Base: 1, Offset: 2, Bytes: 8, ImpUses: _E },
    GLOBAL_STORE_DWORD    : { Name: "GLOBAL_STORE_DWORD"  , Flags: F_VMEM | F_MayStore, Size: 8, Base: 0, Offset: 2, Bytes: 4, Wide: GLOBAL_STORE_DWORDX2, ImpUses: _E },
    GLOBAL_STORE_DWORDX2  : { Name: "GLOBAL_STORE_DWORDX2", Flags: F_VMEM | F_MayStore, Size: 8, Base: 0, Offset: 2, Bytes: 8, ImpUses: _E },
    SCRATCH_LOAD_DWORD    : { Name: "SCRATCH_LOAD_DWORD"  , Flags: F_VMEM | F_MayLoad, Size: 8, Defs: 1, Base: 1, Offset: 2, Bytes: 4, ImpUses: _E },
    SCRATCH_STORE_DWORD   : { Name: "SCRATCH_STORE_DWORD" , Flags: F_VMEM | F_MayStore, Size: 8, Base: 1, Offset: 2, Bytes: 4, ImpUses: _E },
    BUFFER_WBINVL1        : { Name: "BUFFER_WBINVL1"      , Flags: F_VMEM | F_SideEffects, Size: 4, Base: -1, Offset: -1 },
}

var _OpNames = make(map[string]Op, _N_ops)

func init() {
    for i := range _OpTab {
        if op := Op(i); op != OpInvalid {
            fixupOpInfo(op, &_OpTab[i])
        }
    }
}

func fixupOpInfo(op Op, p *OpInfo) {
    if p.Name == "" {
        panic(fmt.Sprintf("mir: missing description for opcode %d", op))
    }

    /* memory accesses without a base default to none */
    if p.Flags & (F_SMEM | F_VMEM) == 0 {
        p.Base, p.Offset = -1, -1
    }

    /* tied operands default to none */
    if p.Tied == 0 {
        p.Tied = -1
    }

    /* build the name index */
    _OpNames[p.Name] = op
}

// Info returns the description of the opcode.
func (self Op) Info() *OpInfo {
    if self == OpInvalid || self >= _N_ops {
        panic(fmt.Sprintf("mir: invalid opcode %d", self))
    } else {
        return &_OpTab[self]
    }
}

func (self Op) Is(flags OpFlags) bool {
    return self.Info().Flags & flags != 0
}

func (self Op) String() string {
    if self == OpInvalid || self >= _N_ops {
        return fmt.Sprintf("OP_%d", self)
    } else {
        return _OpTab[self].Name
    }
}

// ParseOp looks up an opcode by its name.
func ParseOp(name string) (Op, bool) {
    op, ok := _OpNames[name]
    return op, ok
}
